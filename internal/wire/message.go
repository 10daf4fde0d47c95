// Package wire implements the downstream message framing, bit-exactly: a
// format message and a data message, each emitted as a single packet
// through a PacketStream.
package wire

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/ColonelBlimp/pcmtap/internal/pcm"
)

// MsgType identifies the kind of message that follows a msgHdr.
type MsgType uint32

const (
	// AudioFormat precedes a FormatPayload.
	AudioFormat MsgType = 1
	// AudioData precedes a DataHeader and its PCM payload.
	AudioData MsgType = 2
)

// formatCode maps a pcm.Format to the wire's format_code field. Values are
// this collaborator's concern to keep stable across releases.
func formatCode(f pcm.Format) (uint32, error) {
	switch f {
	case pcm.FormatS16LE:
		return 1, nil
	case pcm.FormatS24LE:
		return 2, nil
	case pcm.FormatS32LE:
		return 3, nil
	default:
		return 0, pcm.ErrUnsupportedFormat
	}
}

// FormatPayload is the body of an AUDIO_FORMAT message.
type FormatPayload struct {
	StreamID uint32
	Flags    uint32
	Rate     uint32
	Channels uint32
	Format   pcm.Format
}

// DataHeader is the fixed-size header preceding an AUDIO_DATA message's
// payload bytes.
type DataHeader struct {
	StreamID    uint32
	TimestampNs uint64
	Size        uint64
}

// ErrShortWrite is returned when a PacketStream.Write call writes fewer
// bytes than requested without an underlying error — a protocol violation
// for the fixed-size header writes in this package.
var ErrShortWrite = errors.New("wire: short write to packet stream")

func writeFull(w io.Writer, p []byte) error {
	n, err := w.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return ErrShortWrite
	}
	return nil
}

// WriteFormatMessage emits a complete AUDIO_FORMAT message as a single
// packet: open, set-size, the header, the payload, close.
func WriteFormatMessage(ps PacketStream, payload FormatPayload) error {
	code, err := formatCode(payload.Format)
	if err != nil {
		return err
	}

	const size = 4 /*type*/ + 4*5 /*payload fields*/
	if err := ps.Open(ModeWrite); err != nil {
		return err
	}
	defer ps.Close()

	if err := ps.SetSize(size); err != nil {
		return err
	}

	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(AudioFormat))
	binary.LittleEndian.PutUint32(buf[4:8], payload.StreamID)
	binary.LittleEndian.PutUint32(buf[8:12], payload.Flags)
	binary.LittleEndian.PutUint32(buf[12:16], payload.Rate)
	binary.LittleEndian.PutUint32(buf[16:20], payload.Channels)
	binary.LittleEndian.PutUint32(buf[20:24], code)

	return writeFull(ps, buf)
}

// WriteDataMessage emits a complete AUDIO_DATA message as a single packet:
// open, set-size, the header, the payload bytes, close.
func WriteDataMessage(ps PacketStream, hdr DataHeader, payload []byte) error {
	if uint64(len(payload)) != hdr.Size {
		return errors.New("wire: DataHeader.Size does not match payload length")
	}

	const hdrSize = 4 /*type*/ + 4 /*stream_id*/ + 8 /*timestamp*/ + 8 /*size*/
	total := hdrSize + len(payload)

	if err := ps.Open(ModeWrite); err != nil {
		return err
	}
	defer ps.Close()

	if err := ps.SetSize(total); err != nil {
		return err
	}

	head := make([]byte, hdrSize)
	binary.LittleEndian.PutUint32(head[0:4], uint32(AudioData))
	binary.LittleEndian.PutUint32(head[4:8], hdr.StreamID)
	binary.LittleEndian.PutUint64(head[8:16], hdr.TimestampNs)
	binary.LittleEndian.PutUint64(head[16:24], hdr.Size)

	if err := writeFull(ps, head); err != nil {
		return err
	}
	return writeFull(ps, payload)
}
