// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package bus

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Stream entry field names. Every message is two fields: the event type
// and its JSON payload.
const (
	fieldType    = "type"
	fieldPayload = "payload"
)

// compressThreshold is the payload size above which dead-letter
// payloads are zstd-compressed (1 KiB).
const compressThreshold = 1024

// encZstdBase64 names the dead-letter payload encoding.
const encZstdBase64 = "zstd+base64"

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("bus: zstd encoder: %v", err))
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("bus: zstd decoder: %v", err))
	}
}

// encodeEvent marshals an event and validates it against its schema.
func encodeEvent(evt any) (EventType, []byte, error) {
	eventType, err := TypeOf(evt)
	if err != nil {
		return "", nil, err
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal %s: %w", eventType, err)
	}
	if err := ValidatePayload(eventType, payload); err != nil {
		return "", nil, err
	}
	return eventType, payload, nil
}

// EncodeErrorPayload prepares an original payload for embedding in a
// dead-letter event. Payloads above the threshold come back compressed
// with the encoding name; smaller ones pass through as plain JSON text.
func EncodeErrorPayload(payload []byte) (encoded, encoding string) {
	if len(payload) <= compressThreshold {
		return string(payload), ""
	}
	compressed := zstdEncoder.EncodeAll(payload, nil)
	return base64.StdEncoding.EncodeToString(compressed), encZstdBase64
}

// DecodePayload returns the original payload embedded in a dead-letter
// event, reversing the compression when present.
func (e *WorkflowErrorEvent) DecodePayload() ([]byte, error) {
	switch e.PayloadEncoding {
	case "":
		return []byte(e.OriginalPayload), nil
	case encZstdBase64:
		compressed, err := base64.StdEncoding.DecodeString(e.OriginalPayload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode dead-letter payload: %w", err)
		}
		payload, err := zstdDecoder.DecodeAll(compressed, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress dead-letter payload: %w", err)
		}
		return payload, nil
	default:
		return nil, fmt.Errorf("unknown payload encoding %q", e.PayloadEncoding)
	}
}
