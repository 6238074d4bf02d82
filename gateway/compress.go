package gateway

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// maxInflatedFrame bounds the size of a decompressed frame.
const maxInflatedFrame = 64 << 20

// isZlib reports whether frame starts with a zlib header (RFC 1950): deflate method, a window of at
// most 32K and a valid header checksum. Neither JSON objects nor CBOR maps can match.
func isZlib(frame []byte) bool {
	if len(frame) < 2 {
		return false
	}
	cmf, flg := frame[0], frame[1]
	if cmf&0x0f != 8 || cmf>>4 > 7 {
		return false
	}
	return (uint16(cmf)<<8|uint16(flg))%31 == 0
}

// inflate decompresses a zlib compressed frame.
func inflate(frame []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, maxInflatedFrame+1))
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}
	if len(out) > maxInflatedFrame {
		return nil, fmt.Errorf("inflate: frame exceeds %d bytes", maxInflatedFrame)
	}
	return out, nil
}

// Deflate zlib compresses a frame the way the gateway does when compression was requested.
func Deflate(frame []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(frame); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeFrame inflates frame if needed and decodes it.
func decodeFrame(codec Codec, frame []byte) (Envelope, error) {
	if isZlib(frame) {
		inflated, err := inflate(frame)
		if err != nil {
			return Envelope{}, &DecodeError{Encoding: codec.Encoding(), Err: err}
		}
		frame = inflated
	}
	return codec.Decode(frame)
}
