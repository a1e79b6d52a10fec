// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package solver

import (
	"fmt"
	"strings"

	"github.com/datawire/dlib/dlog"
)

const (
	successChar = "✓"
	failChar    = "✗"
)

func (s *solver) logDecide(pkg string, v fmt.Stringer) {
	if !s.params.Trace {
		return
	}
	prefix := strings.Repeat("| ", s.solution.level)
	dlog.Infof(s.ctx, "%s%s select %s at %s", prefix, successChar, pkg, v)
}

func (s *solver) logConflict(incompat *Incompatibility) {
	if !s.params.Trace {
		return
	}
	prefix := strings.Repeat("| ", s.solution.level)
	dlog.Infof(s.ctx, "%s%s conflict: %s", prefix, failChar, incompat)
}

func (s *solver) logDerive(t Term, cause *Incompatibility) {
	if !s.params.Trace {
		return
	}
	prefix := strings.Repeat("| ", s.solution.level+1)
	dlog.Infof(s.ctx, "%s%s derived from %s", prefix, t, cause)
}

func (s *solver) logFinish(err error) {
	if !s.params.Trace {
		return
	}
	if err == nil {
		dlog.Infof(s.ctx, "%s solved with %d packages", successChar, len(s.solution.decisions))
	} else {
		dlog.Infof(s.ctx, "%s solving failed: %v", failChar, err)
	}
}
