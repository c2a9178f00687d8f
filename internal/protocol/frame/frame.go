package frame

import (
	"errors"
	"fmt"

	"github.com/danmuck/displayctl/internal/protocol"
)

var (
	ErrInvalidPayload = errors.New("frame: payload exceeds 255 bytes")
	ErrIncomplete     = errors.New("frame: incomplete")

	// ErrCorrupt is wrapped by every decode failure that cannot be resynchronized.
	ErrCorrupt          = errors.New("frame: corrupt stream")
	ErrBadMagic         = fmt.Errorf("%w: bad magic", ErrCorrupt)
	ErrChecksumMismatch = fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	ErrShortResponse    = fmt.Errorf("%w: response shorter than ack and command", ErrCorrupt)
)

// Request is one host->display command frame.
type Request struct {
	CommandID byte
	DisplayID byte
	Data      []byte
}

// Response is one display->host reply frame.
type Response struct {
	DisplayID byte
	Success   bool
	CommandID byte
	Data      []byte
}

// Checksum returns the additive sum of b modulo 256.
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// Encode builds a request frame.
func Encode(commandID, displayID byte, payload []byte) ([]byte, error) {
	if len(payload) > protocol.MaxPayload {
		return nil, fmt.Errorf("%w: len=%d", ErrInvalidPayload, len(payload))
	}
	buf := make([]byte, 0, protocol.RequestOverhead+len(payload))
	buf = append(buf, protocol.Magic, commandID, displayID, byte(len(payload)))
	buf = append(buf, payload...)
	buf = append(buf, Checksum(buf[1:]))
	return buf, nil
}

// EncodeResponse builds the reply a display sends for commandID.
func EncodeResponse(displayID byte, ack bool, commandID byte, data []byte) ([]byte, error) {
	if len(data)+2 > protocol.MaxPayload {
		return nil, fmt.Errorf("%w: len=%d", ErrInvalidPayload, len(data))
	}
	status := protocol.Nak
	if ack {
		status = protocol.Ack
	}
	buf := make([]byte, 0, protocol.MinResponseLen+len(data)+1)
	buf = append(buf, protocol.Magic, protocol.ResponseMarker, displayID, byte(len(data)+2), status, commandID)
	buf = append(buf, data...)
	buf = append(buf, Checksum(buf[1:]))
	return buf, nil
}

// TryExtract decodes the response at the front of buf.
//
// It returns the number of bytes consumed. ErrIncomplete means more bytes are
// needed and nothing was consumed; errors wrapping ErrCorrupt mean the stream
// can not be trusted past this point.
func TryExtract(buf []byte) (Response, int, error) {
	if len(buf) < protocol.MinResponseLen {
		return Response{}, 0, ErrIncomplete
	}
	if buf[0] != protocol.Magic || buf[1] != protocol.ResponseMarker {
		return Response{}, 0, fmt.Errorf("%w: got=% X", ErrBadMagic, buf[:2])
	}
	dataLen := int(buf[3])
	end := 4 + dataLen
	if len(buf) < end+1 {
		return Response{}, 0, ErrIncomplete
	}
	if want := Checksum(buf[1:end]); want != buf[end] {
		return Response{}, 0, fmt.Errorf("%w: want=0x%02X got=0x%02X", ErrChecksumMismatch, want, buf[end])
	}
	if dataLen < 2 {
		return Response{}, 0, fmt.Errorf("%w: len=%d", ErrShortResponse, dataLen)
	}
	data := make([]byte, end-6)
	copy(data, buf[6:end])
	return Response{
		DisplayID: buf[2],
		Success:   buf[4] == protocol.Ack,
		CommandID: buf[5],
		Data:      data,
	}, end + 1, nil
}

// ExtractAll decodes every complete response at the front of buf.
//
// Frames decoded before a corruption are still returned together with the
// error; consumed covers only those frames.
func ExtractAll(buf []byte) ([]Response, int, error) {
	var out []Response
	consumed := 0
	for {
		resp, n, err := TryExtract(buf[consumed:])
		if errors.Is(err, ErrIncomplete) {
			return out, consumed, nil
		}
		if err != nil {
			return out, consumed, err
		}
		out = append(out, resp)
		consumed += n
	}
}

// TryExtractRequest decodes the request at the front of buf. It mirrors
// TryExtract for peers that play the display side.
func TryExtractRequest(buf []byte) (Request, int, error) {
	if len(buf) < protocol.RequestOverhead {
		return Request{}, 0, ErrIncomplete
	}
	if buf[0] != protocol.Magic || buf[1] == protocol.ResponseMarker {
		return Request{}, 0, fmt.Errorf("%w: got=% X", ErrBadMagic, buf[:2])
	}
	dataLen := int(buf[3])
	end := 4 + dataLen
	if len(buf) < end+1 {
		return Request{}, 0, ErrIncomplete
	}
	if want := Checksum(buf[1:end]); want != buf[end] {
		return Request{}, 0, fmt.Errorf("%w: want=0x%02X got=0x%02X", ErrChecksumMismatch, want, buf[end])
	}
	data := make([]byte, dataLen)
	copy(data, buf[4:end])
	return Request{CommandID: buf[1], DisplayID: buf[2], Data: data}, end + 1, nil
}
