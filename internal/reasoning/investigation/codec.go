package investigation

import (
	"encoding/json"
	"fmt"
)

// Marshal serializes st. Output is deterministic: map keys are sorted and
// empty collections are omitted, so Marshal(Unmarshal(b)) == b for any b
// produced by Marshal.
func Marshal(st *State) ([]byte, error) {
	if st == nil {
		return nil, fmt.Errorf("marshal state: nil state")
	}
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal state %s: %w", st.ID, err)
	}
	return data, nil
}

// Unmarshal decodes a state produced by Marshal.
func Unmarshal(data []byte) (*State, error) {
	st := &State{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	if st.Schema > SchemaVersion {
		return nil, fmt.Errorf("unmarshal state %s: schema %d is newer than supported %d", st.ID, st.Schema, SchemaVersion)
	}
	if st.Schema == 0 {
		st.Schema = SchemaVersion
	}
	st.ensureMaps()
	return st, nil
}

// Clone returns a deep copy of st.
func Clone(st *State) (*State, error) {
	data, err := Marshal(st)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}
