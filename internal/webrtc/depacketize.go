package webrtc

// annexBStartCode prefixes every NAL unit in an Annex-B byte stream.
var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// H264Depacketizer extracts NAL units from RTP H264 payloads.
// It keeps per-stream state for FU-A reassembly and drops a fragmented
// unit when a packet inside it goes missing.
type H264Depacketizer struct {
	fuaBuf  []byte
	lastSeq uint16
	inFU    bool
}

// NewH264Depacketizer creates a new depacketizer with its own reassembly buffer.
func NewH264Depacketizer() *H264Depacketizer {
	return &H264Depacketizer{}
}

// Depacketize extracts NAL units from the RTP H264 payload of packet seq.
// Handles single NAL, STAP-A, and FU-A packet types.
func (d *H264Depacketizer) Depacketize(seq uint16, payload []byte) [][]byte {
	if len(payload) < 1 {
		return nil
	}

	naluType := payload[0] & 0x1f

	switch {
	case naluType >= 1 && naluType <= 23:
		d.resetFU()
		return [][]byte{payload}

	case naluType == 24:
		d.resetFU()
		return depacketizeSTAPA(payload)

	case naluType == 28:
		return d.depacketizeFUA(seq, payload)

	default:
		return nil
	}
}

// AnnexB renders nalus as an Annex-B byte stream.
func AnnexB(nalus [][]byte) []byte {
	var n int
	for _, nalu := range nalus {
		if len(nalu) > 0 {
			n += len(annexBStartCode) + len(nalu)
		}
	}
	out := make([]byte, 0, n)
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		out = append(out, annexBStartCode...)
		out = append(out, nalu...)
	}
	return out
}

func depacketizeSTAPA(payload []byte) [][]byte {
	var nalus [][]byte
	offset := 1 // skip STAP-A header byte

	for offset+2 <= len(payload) {
		size := int(payload[offset])<<8 | int(payload[offset+1])
		offset += 2
		if size == 0 || offset+size > len(payload) {
			break
		}
		nalus = append(nalus, payload[offset:offset+size])
		offset += size
	}
	return nalus
}

func (d *H264Depacketizer) depacketizeFUA(seq uint16, payload []byte) [][]byte {
	if len(payload) < 2 {
		return nil
	}

	fnri := payload[0] & 0xe0 // F + NRI bits from FU indicator
	fuHeader := payload[1]
	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	naluType := fuHeader & 0x1f

	switch {
	case start:
		// Reconstruct NAL header: F+NRI from FU indicator + type from FU header
		d.fuaBuf = append(d.fuaBuf[:0], fnri|naluType)
		d.fuaBuf = append(d.fuaBuf, payload[2:]...)
		d.inFU = true
	case !d.inFU:
		return nil
	case seq != d.lastSeq+1:
		// A fragment was lost; the unit cannot be rebuilt.
		d.resetFU()
		return nil
	default:
		d.fuaBuf = append(d.fuaBuf, payload[2:]...)
	}
	d.lastSeq = seq

	if end {
		nalu := append([]byte(nil), d.fuaBuf...)
		d.resetFU()
		return [][]byte{nalu}
	}

	return nil
}

func (d *H264Depacketizer) resetFU() {
	d.fuaBuf = d.fuaBuf[:0]
	d.inFU = false
}
