package types

import (
	"encoding/json"
	"fmt"
)

// envelope is the persisted form of every stored value: a kind tag plus the
// kind's own JSON payload.
type envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Encode serializes a finding for storage.
func Encode(f Finding) ([]byte, error) {
	if f == nil {
		return nil, fmt.Errorf("encode: nil finding")
	}
	payload, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", f.Kind(), err)
	}
	return json.Marshal(envelope{Kind: f.Kind(), Payload: payload})
}

// EncodeRaw serializes a non-finding value written through the raw path.
func EncodeRaw(v interface{}) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode raw value: %w", err)
	}
	return json.Marshal(envelope{Kind: KindRaw, Payload: payload})
}

// Decode deserializes a stored finding. Raw blobs are rejected; use
// DecodeAny for addresses that may hold raw values.
func Decode(blob []byte) (Finding, error) {
	v, err := DecodeAny(blob)
	if err != nil {
		return nil, err
	}
	f, ok := v.(Finding)
	if !ok {
		return nil, fmt.Errorf("decode: blob holds a raw value, not a finding")
	}
	return f, nil
}

// DecodeAny deserializes a stored blob into its finding variant, or into the
// raw value it was written as.
func DecodeAny(blob []byte) (interface{}, error) {
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Kind {
	case KindInfo, KindVuln:
		var info Info
		if err := json.Unmarshal(env.Payload, &info); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
		}
		info.kind = env.Kind
		return &info, nil
	case KindInfoSet:
		var set infoSetWire
		if err := json.Unmarshal(env.Payload, &set); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
		}
		return set.toInfoSet(), nil
	case KindShell:
		var shell Shell
		if err := json.Unmarshal(env.Payload, &shell); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Kind, err)
		}
		return &shell, nil
	case KindRaw:
		var v interface{}
		if err := json.Unmarshal(env.Payload, &v); err != nil {
			return nil, fmt.Errorf("decode raw value: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("decode: unknown kind %q", env.Kind)
	}
}

// infoSetWire mirrors InfoSet but records each member's variant tag, which
// Info keeps unexported.
type infoSetWire struct {
	GroupKey string `json:"group_key"`
	Infos    []struct {
		Info
		MemberKind Kind `json:"member_kind,omitempty"`
	} `json:"infos"`
}

func (w *infoSetWire) toInfoSet() *InfoSet {
	set := &InfoSet{GroupKey: w.GroupKey, Infos: make([]*Info, len(w.Infos))}
	for n := range w.Infos {
		info := w.Infos[n].Info
		info.kind = w.Infos[n].MemberKind
		if info.kind == "" {
			info.kind = KindInfo
		}
		set.Infos[n] = &info
	}
	return set
}

// MarshalJSON records each member's variant tag alongside its payload.
func (s *InfoSet) MarshalJSON() ([]byte, error) {
	type member struct {
		*Info
		MemberKind Kind `json:"member_kind,omitempty"`
	}
	members := make([]member, len(s.Infos))
	for n, i := range s.Infos {
		members[n] = member{Info: i, MemberKind: i.kind}
	}
	return json.Marshal(struct {
		GroupKey string   `json:"group_key"`
		Infos    []member `json:"infos"`
	}{GroupKey: s.GroupKey, Infos: members})
}
