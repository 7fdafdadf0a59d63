package protocol

import (
	"errors"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"
)

// ErrFrameTooLarge 帧长度超过上限
var ErrFrameTooLarge = errors.New("frame too large")

// WriteFrame 写入 uvarint(len) || payload
//
// 前缀与内容在一次 Write 中写出，保证帧在流上不被交错。
func WriteFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, 0, varint.UvarintSize(uint64(len(payload)))+len(payload))
	buf = append(buf, varint.ToUvarint(uint64(len(payload)))...)
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}

// ReadFrame 读取一帧，长度超过 max 时返回 ErrFrameTooLarge 且不读取内容
//
// r 实现 io.ByteReader（如 *bufio.Reader）时直接使用，否则逐字节读取前缀，
// 不会多读属于后续帧的数据。
func ReadFrame(r io.Reader, max uint64) ([]byte, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = &byteReader{r: r}
	}
	n, err := varint.ReadUvarint(br)
	if err != nil {
		return nil, err
	}
	if n > max {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, max)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

type byteReader struct {
	r   io.Reader
	buf [1]byte
}

func (b *byteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(b.r, b.buf[:]); err != nil {
		return 0, err
	}
	return b.buf[0], nil
}
