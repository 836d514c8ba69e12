package dataset

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/hanahanaworks/xtl-lerobot/pkg/camera"
)

// The .vstream format is a flat sequence of length-prefixed frames. Record
// n of a stream belongs to step n of the episode; a step whose source
// produced nothing is written as a zero-length record so the alignment
// survives gaps.
//
// Per record, little-endian:
//
//	uint32 width, uint32 height, int64 ts_ns, uint32 data length, data

// StreamFrame is one decoded record of a .vstream file.
type StreamFrame struct {
	Width  int
	Height int
	TsNs   int64
	Data   []byte
}

// Empty reports whether the record is a gap placeholder.
func (f StreamFrame) Empty() bool { return len(f.Data) == 0 }

func writeStreamFrame(w io.Writer, f camera.Frame) error {
	hdr := make([]byte, 20)
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(f.Width))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(f.Height))
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(f.Timestamp.UnixNano()))
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(len(f.Data)))
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(f.Data)
	return err
}

func writeStreamGap(w io.Writer) error {
	var hdr [20]byte
	_, err := w.Write(hdr[:])
	return err
}

// ReadStream decodes a .vstream file. Frame i of the result corresponds to
// step i of the episode the stream was written for.
func ReadStream(path string) ([]StreamFrame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer f.Close()

	var frames []StreamFrame
	hdr := make([]byte, 20)
	for {
		if _, err := io.ReadFull(f, hdr); err != nil {
			if err == io.EOF {
				return frames, nil
			}
			return nil, fmt.Errorf("read frame %d header: %w", len(frames), err)
		}
		sf := StreamFrame{
			Width:  int(binary.LittleEndian.Uint32(hdr[0:4])),
			Height: int(binary.LittleEndian.Uint32(hdr[4:8])),
			TsNs:   int64(binary.LittleEndian.Uint64(hdr[8:16])),
		}
		n := binary.LittleEndian.Uint32(hdr[16:20])
		if n > 0 {
			sf.Data = make([]byte, n)
			if _, err := io.ReadFull(f, sf.Data); err != nil {
				return nil, fmt.Errorf("read frame %d data: %w", len(frames), err)
			}
		}
		frames = append(frames, sf)
	}
}
