/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package main

import (
	"encoding/json"

	"github.com/inkwell/noteengine/engine"
)

// lwwText is the engine.Doc this CLI plugs into the document store.
// The rich-text editor and its real document schema are out of scope
// here (the engine only ever sees opaque update bytes); this is
// deliberately the simplest possible convergent document — last
// writer by timestamp wins for the whole body — just enough to drive
// the engine end to end from a terminal.
type lwwText struct {
	text   string
	millis int64
}

type lwwUpdate struct {
	Text   string `json:"text"`
	Millis int64  `json:"millis"`
}

func (d *lwwText) ApplyUpdate(update []byte) error {
	var u lwwUpdate
	if err := json.Unmarshal(update, &u); err != nil {
		return err
	}
	if u.Millis >= d.millis {
		d.text = u.Text
		d.millis = u.Millis
	}
	return nil
}

func (d *lwwText) EncodeState() []byte {
	b, _ := json.Marshal(lwwUpdate{Text: d.text, Millis: d.millis})
	return b
}

func (d *lwwText) EncodeDiff(prev []byte) []byte {
	return d.EncodeState()
}

type lwwCRDT struct{}

func (lwwCRDT) NewDoc() engine.Doc { return &lwwText{} }

func (lwwCRDT) LoadDoc(state []byte) (engine.Doc, error) {
	d := &lwwText{}
	if len(state) == 0 {
		return d, nil
	}
	var u lwwUpdate
	if err := json.Unmarshal(state, &u); err != nil {
		return nil, err
	}
	d.text, d.millis = u.Text, u.Millis
	return d, nil
}

// encodeUpdate builds the opaque update bytes for setting a note's
// whole body to text as of nowMillis.
func encodeUpdate(text string, nowMillis int64) []byte {
	b, _ := json.Marshal(lwwUpdate{Text: text, Millis: nowMillis})
	return b
}
