package raw

import (
	"fmt"
	"strconv"
	"strings"
)

// RType selects a data node subsystem (register address space).
type RType uint8

const (
	RTypeErr     RType = 0x00
	RTypeCentral RType = 0x01
	RTypeSATA    RType = 0x02
	RTypeDAQ     RType = 0x03
	RTypeUDP     RType = 0x04
	RTypeGPIO    RType = 0x05
)

// RTypes lists every subsystem in wire order.
var RTypes = []RType{RTypeErr, RTypeCentral, RTypeSATA, RTypeDAQ, RTypeUDP, RTypeGPIO}

// Central registers.
const (
	CentralErr uint8 = iota
	CentralState
	CentralExpCookieH
	CentralExpCookieL
	CentralGitSHAPiece
	CentralHDLParam
	CentralHDLTimestamp
	CentralBoardID
)

// DAQ registers. Subsample slot configs live at DAQBsubCfg0+n.
const (
	DAQErr uint8 = iota
	DAQEnable
	DAQBsmpStart
	DAQBsmpCurr
	DAQChipAlive
	DAQChipCmd
	DAQChipSynch
	DAQFifoCount
	DAQFifoFlags
	DAQUDPEnable
	DAQUDPMode
	DAQSATAEnable
	DAQSATAFifoCount
	DAQSATAFifoFlags

	DAQBsubCfg0 uint8 = 0x80
)

// GPIO registers; address 1 is reserved.
const (
	GPIOErr   uint8 = 0
	GPIORead  uint8 = 2
	GPIOWrite uint8 = 3
	GPIOState uint8 = 4
)

var rtypeNames = map[RType]string{
	RTypeErr:     "err",
	RTypeCentral: "central",
	RTypeSATA:    "sata",
	RTypeDAQ:     "daq",
	RTypeUDP:     "udp",
	RTypeGPIO:    "gpio",
}

var registerNames = map[RType][]string{
	RTypeErr: {"err0"},
	RTypeCentral: {
		"err", "state", "exp_ck_h", "exp_ck_l",
		"git_sha_piece", "hdl_param", "hdl_timestamp", "board_id",
	},
	RTypeSATA: {
		"err", "mode", "status", "disk_id", "io_param", "r_idx", "r_len",
		"w_idx", "r_fifo_rst", "fifo_st", "fifo_ct", "udp_fifo_rst",
		"udp_fifo_st", "udp_fifo_ct", "dsect_h", "dsect_l", "delay_freq_hz",
		"read_slowdown", "write_delay", "feedback_count", "write_start_index",
	},
	RTypeDAQ: daqNames(),
	RTypeUDP: {
		"err", "enable", "src_mac_h", "src_mac_l", "dst_mac_h", "dst_mac_l",
		"src_ip4", "dst_ip4", "src_ip4_port", "dst_ip4_port", "pkt_tx_count",
		"eth_pkt_len", "payload_len", "mode", "gige_status", "gige_miim_en",
		"gige_miim_ad", "gige_miim_dt",
	},
	RTypeGPIO: {"err", "", "read", "write", "state"},
}

func daqNames() []string {
	names := make([]string, int(DAQBsubCfg0)+SubsampleLen)
	copy(names, []string{
		"err", "enable", "bsmp_start", "bsmp_curr", "chip_alive", "chip_cmd",
		"chip_synch", "fifo_count", "fifo_flags", "udp_enable", "udp_mode",
		"sata_enable", "sata_fifo_ct", "sata_fifo_fl",
	})
	for i := 0; i < SubsampleLen; i++ {
		names[int(DAQBsubCfg0)+i] = fmt.Sprintf("bsub%d_cfg", i)
	}
	return names
}

// RegisterCount returns the number of valid addresses for t, or -1 when t
// is not a known subsystem.
func RegisterCount(t RType) int {
	names, ok := registerNames[t]
	if !ok {
		return -1
	}
	return len(names)
}

// ValidateRegister checks t and addr against the register map.
func ValidateRegister(t RType, addr uint8) error {
	n := RegisterCount(t)
	if n < 0 {
		return RegisterError{RType: t, RAddr: addr, Reason: "unknown r_type"}
	}
	if int(addr) >= n {
		return RegisterError{RType: t, RAddr: addr, Reason: fmt.Sprintf("r_addr out of range (count %d)", n)}
	}
	return nil
}

// ValidateRequest checks the register named by a request.
func ValidateRequest(r Request) error {
	return ValidateRegister(r.RType, r.RAddr)
}

func (t RType) String() string {
	if name, ok := rtypeNames[t]; ok {
		return name
	}
	return "unknown"
}

func (m MessageType) String() string {
	switch m {
	case MsgRequest:
		return "req"
	case MsgResponse:
		return "res"
	case MsgError:
		return "err"
	case MsgSubsample:
		return "bsub"
	case MsgSample:
		return "bsmp"
	default:
		return "unknown"
	}
}

// RegisterName returns the name of register addr in subsystem t, or
// "unknown" for unnamed or out-of-range addresses.
func RegisterName(t RType, addr uint8) string {
	names := registerNames[t]
	if int(addr) >= len(names) || names[addr] == "" {
		return "unknown"
	}
	return names[addr]
}

// RegisterNames returns a copy of the named addresses of t.
func RegisterNames(t RType) map[uint8]string {
	out := make(map[uint8]string)
	for i, name := range registerNames[t] {
		if name != "" {
			out[uint8(i)] = name
		}
	}
	return out
}

// ParseRType accepts a subsystem name or number.
func ParseRType(s string) (RType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range rtypeNames {
		if name == s {
			return t, nil
		}
	}
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("raw: unknown r_type %q", s)
	}
	if RegisterCount(RType(n)) < 0 {
		return 0, RegisterError{RType: RType(n), Reason: "unknown r_type"}
	}
	return RType(n), nil
}

// ParseRegister accepts a register name or number within subsystem t.
func ParseRegister(t RType, s string) (uint8, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range registerNames[t] {
		if name != "" && name == s {
			return uint8(i), nil
		}
	}
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("raw: unknown %s register %q", t, s)
	}
	if err := ValidateRegister(t, uint8(n)); err != nil {
		return 0, err
	}
	return uint8(n), nil
}
