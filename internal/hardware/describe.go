package hardware

import (
	"fmt"
	"strings"
)

// DescribeResponse 生成应答的可读描述
func DescribeResponse(command byte, raw []byte) string {
	f, err := Decode(raw)
	if err != nil {
		return fmt.Sprintf("response too short: %d bytes", len(raw))
	}

	var sb strings.Builder
	sb.WriteString(f.String())
	sb.WriteString("\n")

	switch f.Header {
	case HeaderACK:
		switch command {
		case CmdOptoStatus:
			sb.WriteString("opto: " + ParseOptoByte(raw[4]).Summary())
		case CmdTestHopper:
			sb.WriteString("test: " + ParseTestFlags(raw[4]).Summary())
		case CmdRequestStatus:
			if st, err := ParseStatus(raw); err != nil {
				sb.WriteString("status: " + err.Error())
			} else {
				sb.WriteString("status: " + st.Summary())
			}
		default:
			sb.WriteString("command executed")
		}
	case HeaderNACK:
		sb.WriteString("command rejected (NACK)")
	default:
		fmt.Fprintf(&sb, "unrecognised header 0x%02X", f.Header)
	}

	if !VerifyChecksum(raw) {
		sb.WriteString(" [checksum mismatch]")
	}
	return sb.String()
}
