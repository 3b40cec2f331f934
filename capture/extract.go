// Package capture counts the protocols present in pcap and pcapng files.
package capture

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"

	"github.com/Zerofisher/pcapcatalog/pkg/model"
)

// ErrUnreadable is returned for files that are not readable captures.
var ErrUnreadable = errors.New("capture unreadable")

// pcapng section header block type, read little-endian.
const ngMagic = 0x0A0D0D0A

// ctxCheckInterval is how many packets are read between context checks.
const ctxCheckInterval = 1024

// ExtractOptions controls a single extraction.
type ExtractOptions struct {
	Mode model.ExtractionMode
	// PacketBudget caps the packets examined in quick mode. <= 0 means no cap.
	PacketBudget int
}

// Extraction is the protocol summary of one capture file.
type Extraction struct {
	// Protocols in first-seen order.
	Protocols       []string
	Counts          map[string]int64
	PacketsExamined int
	// Truncated is set when the packet budget stopped the read with packets left.
	Truncated bool
}

// Extractor turns a capture file into protocol counts.
type Extractor interface {
	Extract(ctx context.Context, path string, opts ExtractOptions) (*Extraction, error)
}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// FileExtractor reads captures from the local filesystem.
type FileExtractor struct{}

// NewFileExtractor creates a FileExtractor.
func NewFileExtractor() *FileExtractor {
	return &FileExtractor{}
}

// Extract reads the capture at path and counts, for every packet, each
// protocol it carries once.
func (e *FileExtractor) Extract(ctx context.Context, path string, opts ExtractOptions) (*Extraction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()

	r, linkType, err := openReader(bufio.NewReaderSize(f, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, path, err)
	}

	budget := 0
	if opts.Mode == model.ModeQuick && opts.PacketBudget > 0 {
		budget = opts.PacketBudget
	}

	result := &Extraction{Counts: make(map[string]int64)}
	decodeOpts := gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	for {
		if budget > 0 && result.PacketsExamined >= budget {
			// One more read tells a complete file from a truncated one.
			if _, _, err := r.ReadPacketData(); err == nil {
				result.Truncated = true
			}
			break
		}
		if result.PacketsExamined%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		data, _, err := r.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			if result.PacketsExamined == 0 {
				return nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, path, err)
			}
			// Cut-off capture: keep what was counted.
			break
		}

		pkt := gopacket.NewPacket(data, linkType, decodeOpts)
		for _, name := range Classify(pkt) {
			if _, ok := result.Counts[name]; !ok {
				result.Protocols = append(result.Protocols, name)
			}
			result.Counts[name]++
		}
		result.PacketsExamined++
	}

	if result.PacketsExamined == 0 {
		return nil, fmt.Errorf("%w: %s: no packets", ErrUnreadable, path)
	}
	return result, nil
}

// openReader picks the pcap or pcapng reader from the file magic.
func openReader(br *bufio.Reader) (packetReader, gopacket.Decoder, error) {
	magic, err := br.Peek(4)
	if err != nil {
		return nil, nil, fmt.Errorf("read magic: %w", err)
	}

	if binary.LittleEndian.Uint32(magic) == ngMagic {
		r, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, nil, fmt.Errorf("pcapng header: %w", err)
		}
		return r, r.LinkType(), nil
	}

	r, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, nil, fmt.Errorf("pcap header: %w", err)
	}
	return r, r.LinkType(), nil
}
