package provlog

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Protobuf wire messages for the HTTP endpoints. The messages are flat
// enough to encode by hand with protowire; the schema, for consumers
// generating their own bindings:
//
//	message SubmitRequest {
//	  string vlad  = 1;      // multibase vlad the entry extends
//	  bytes  entry = 2;      // canonical entry bytes
//	}
//
//	message SubmitResponse {
//	  bool   accepted      = 1;
//	  uint64 lock_depth    = 2;
//	  uint64 check_count   = 3;
//	  uint64 context_depth = 4;
//	  string error         = 5;
//	}

// SubmitRequest proposes a canonical entry for the log named by Vlad.
type SubmitRequest struct {
	Vlad  string
	Entry []byte
}

// SubmitResponse reports the validation verdict and, when accepted, the
// winning precedence tuple.
type SubmitResponse struct {
	Accepted   bool
	Precedence Precedence
	Error      string
}

// Marshal encodes the request in protobuf wire format.
func (r *SubmitRequest) Marshal() []byte {
	var buf []byte
	if r.Vlad != "" {
		buf = protowire.AppendTag(buf, 1, protowire.BytesType)
		buf = protowire.AppendString(buf, r.Vlad)
	}
	if len(r.Entry) > 0 {
		buf = protowire.AppendTag(buf, 2, protowire.BytesType)
		buf = protowire.AppendBytes(buf, r.Entry)
	}
	return buf
}

// Unmarshal decodes the protobuf wire format, ignoring unknown fields.
func (r *SubmitRequest) Unmarshal(data []byte) error {
	*r = SubmitRequest{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("submit request: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("submit request vlad: %w", protowire.ParseError(n))
			}
			r.Vlad = v
			data = data[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("submit request entry: %w", protowire.ParseError(n))
			}
			r.Entry = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("submit request field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

// Marshal encodes the response in protobuf wire format.
func (r *SubmitResponse) Marshal() []byte {
	var buf []byte
	if r.Accepted {
		buf = protowire.AppendTag(buf, 1, protowire.VarintType)
		buf = protowire.AppendVarint(buf, 1)
	}
	if r.Precedence.LockDepth != 0 {
		buf = protowire.AppendTag(buf, 2, protowire.VarintType)
		buf = protowire.AppendVarint(buf, r.Precedence.LockDepth)
	}
	if r.Precedence.CheckCount != 0 {
		buf = protowire.AppendTag(buf, 3, protowire.VarintType)
		buf = protowire.AppendVarint(buf, r.Precedence.CheckCount)
	}
	if r.Precedence.ContextDepth != 0 {
		buf = protowire.AppendTag(buf, 4, protowire.VarintType)
		buf = protowire.AppendVarint(buf, r.Precedence.ContextDepth)
	}
	if r.Error != "" {
		buf = protowire.AppendTag(buf, 5, protowire.BytesType)
		buf = protowire.AppendString(buf, r.Error)
	}
	return buf
}

// Unmarshal decodes the protobuf wire format, ignoring unknown fields.
func (r *SubmitResponse) Unmarshal(data []byte) error {
	*r = SubmitResponse{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("submit response: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("submit response accepted: %w", protowire.ParseError(n))
			}
			r.Accepted = v != 0
			data = data[n:]
		case num >= 2 && num <= 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("submit response precedence: %w", protowire.ParseError(n))
			}
			switch num {
			case 2:
				r.Precedence.LockDepth = v
			case 3:
				r.Precedence.CheckCount = v
			case 4:
				r.Precedence.ContextDepth = v
			}
			data = data[n:]
		case num == 5 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("submit response error: %w", protowire.ParseError(n))
			}
			r.Error = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("submit response field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}
