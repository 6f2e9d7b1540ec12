// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package ops

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"testing"

	"github.com/avolkau/rawisp/internal/raw"
)

func TestOpSequenceJSONRoundTrip(t *testing.T) {
	seq := NewOpSequence(NewOpSave("out-%d.jpg"), NewOpSave(""))
	bs, err := json.Marshal(seq)
	if err != nil {
		t.Fatalf("marshal: %s", err.Error())
	}

	decoded := &OpSequence{}
	if err := json.Unmarshal(bs, decoded); err != nil {
		t.Fatalf("unmarshal: %s", err.Error())
	}
	if decoded.Type != "seq" || len(decoded.Steps) != 2 {
		t.Fatalf("got type %s with %d steps expect seq with 2", decoded.Type, len(decoded.Steps))
	}
	save, ok := decoded.Steps[0].(*OpSave)
	if !ok {
		t.Fatalf("step 0 decoded as %T expect *OpSave", decoded.Steps[0])
	}
	if save.FilePattern != "out-%d.jpg" || !save.Active {
		t.Errorf("step 0 got pattern %q active %v", save.FilePattern, save.Active)
	}
	if decoded.Steps[1].IsActive() {
		t.Errorf("step 1 with empty pattern must be inactive")
	}
}

func TestOpSequenceUnknownType(t *testing.T) {
	js := `{"type":"seq","active":true,"steps":[{"type":"doesNotExist"}]}`
	decoded := &OpSequence{}
	if err := json.Unmarshal([]byte(js), decoded); err == nil {
		t.Errorf("expected error for unknown operator type")
	}
}

func TestOpForEachJSONRoundTrip(t *testing.T) {
	seq := NewOpSequence(NewOpForEach(NewOpSave("frame-%d.jpg")))
	bs, err := json.Marshal(seq)
	if err != nil {
		t.Fatalf("marshal: %s", err.Error())
	}

	decoded := &OpSequence{}
	if err := json.Unmarshal(bs, decoded); err != nil {
		t.Fatalf("unmarshal: %s", err.Error())
	}
	if len(decoded.Steps) != 1 {
		t.Fatalf("got %d steps expect 1", len(decoded.Steps))
	}
	forEach, ok := decoded.Steps[0].(*OpForEach)
	if !ok {
		t.Fatalf("step 0 decoded as %T expect *OpForEach", decoded.Steps[0])
	}
	save, ok := forEach.Operation.(*OpSave)
	if !ok {
		t.Fatalf("embedded operation decoded as %T expect *OpSave", forEach.Operation)
	}
	if save.FilePattern != "frame-%d.jpg" || !save.Active {
		t.Errorf("embedded operation got pattern %q active %v", save.FilePattern, save.Active)
	}
}

func TestOpForEachUnknownOperationType(t *testing.T) {
	js := `{"type":"forEach","active":true,"operation":{"type":"doesNotExist"}}`
	decoded := &OpForEach{}
	if err := json.Unmarshal([]byte(js), decoded); err == nil {
		t.Errorf("expected error for unknown operator type")
	}
}

func TestMaterializeAll(t *testing.T) {
	ins := make([]Promise, 8)
	for i := range ins {
		id := i
		ins[i] = func() (*raw.Image, error) {
			f := raw.NewImage(4, 4, 1, raw.RGGB, nil)
			f.ID = id
			return f, nil
		}
	}
	outs, err := MaterializeAll(ins, 3, false)
	if err != nil {
		t.Fatalf("unexpected error %s", err.Error())
	}
	if len(outs) != 8 {
		t.Fatalf("got %d frames expect 8", len(outs))
	}
	for i, f := range outs {
		if f.ID != i {
			t.Errorf("frame %d has ID %d, ordering lost", i, f.ID)
		}
	}
}

func TestMaterializeAllPropagatesErrors(t *testing.T) {
	errBroken := errors.New("broken promise")
	ins := []Promise{
		func() (*raw.Image, error) { return raw.NewImage(4, 4, 1, raw.RGGB, nil), nil },
		func() (*raw.Image, error) { return nil, errBroken },
	}
	outs, err := MaterializeAll(ins, 2, false)
	if err == nil {
		t.Fatalf("expected error from failing promise")
	}
	if len(outs) != 1 {
		t.Errorf("got %d frames expect 1 surviving", len(outs))
	}
}

func TestRemoveNils(t *testing.T) {
	a, b := raw.NewImage(2, 2, 1, raw.RGGB, nil), raw.NewImage(2, 2, 1, raw.RGGB, nil)
	frames := []*raw.Image{nil, a, nil, b, nil}
	res := RemoveNils(frames)
	if len(res) != 2 || res[0] != a || res[1] != b {
		t.Errorf("got %v expect [a b]", res)
	}
}

func TestIsPathAllowed(t *testing.T) {
	tcs := []struct {
		Path    string
		Allowed bool
	}{
		{"burst/frame-0.raw", true},
		{"frame.raw", true},
		{"/etc/passwd", false},
		{"../secret.raw", false},
		{"burst/../../secret.raw", false},
	}
	for _, tc := range tcs {
		if got := isPathAllowed(tc.Path); got != tc.Allowed {
			t.Errorf("isPathAllowed(%q) got %v expect %v", tc.Path, got, tc.Allowed)
		}
	}
}

func TestOpForEach(t *testing.T) {
	passthrough := NewOpSave("") // inactive save is a cheap pass-through unary op
	op := NewOpForEach(passthrough)
	c := NewContext(ioutil.Discard, nil)

	ins := make([]Promise, 3)
	for i := range ins {
		id := i
		ins[i] = func() (*raw.Image, error) {
			f := raw.NewImage(4, 4, 1, raw.RGGB, nil)
			f.ID = id
			return f, nil
		}
	}
	outs, err := op.MakePromises(ins, c)
	if err != nil {
		t.Fatalf("unexpected error %s", err.Error())
	}
	if len(outs) != 3 {
		t.Fatalf("got %d outputs expect 3", len(outs))
	}
	for i, out := range outs {
		f, err := out()
		if err != nil {
			t.Fatalf("promise %d: %s", i, err.Error())
		}
		if f.ID != i {
			t.Errorf("promise %d returned frame %d", i, f.ID)
		}
	}
}
