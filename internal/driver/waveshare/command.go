// internal/driver/waveshare/command.go
package waveshare

import (
	"fmt"
	"strings"

	"can-bridge-service/internal/model"
)

// Line terminator for every AT command
const lineEnding = "\r\n"

// AT_COMMANDS contains the query and control commands understood by the bridge
var AT_COMMANDS = struct {
	// Probing and mode switching
	ATTENTION string
	ESCAPE    string
	RESTART   string
	ENTER_AT  string

	// Queries
	QUERY_UART   string
	QUERY_CAN    string
	QUERY_ID     string
	QUERY_FILTER string
	QUERY_MODE   string
	QUERY_PERF   string
	QUERY_PROTO  string
	QUERY_STATUS string
	QUERY_INFO   string

	// Persistence
	SAVE string
}{
	ATTENTION: "AT",
	ESCAPE:    "+++",
	RESTART:   "AT+RST",
	ENTER_AT:  "AT+ENTM",

	QUERY_UART:   "AT+UART?",
	QUERY_CAN:    "AT+CAN?",
	QUERY_ID:     "AT+ID?",
	QUERY_FILTER: "AT+FILTER?",
	QUERY_MODE:   "AT+MODE?",
	QUERY_PERF:   "AT+PERF?",
	QUERY_PROTO:  "AT+PROTO?",
	QUERY_STATUS: "AT+STATUS?",
	QUERY_INFO:   "AT+INFO?",

	SAVE: "AT+SAVE",
}

// Response tokens
const (
	tokenOK    = "OK"
	tokenError = "ERROR"
	tokenData  = "+"
)

// setUART builds AT+UART=baud,data,stop,parity,flow. Flow control is always written as 0.
func setUART(u model.UartConfig) string {
	return fmt.Sprintf("AT+UART=%d,%d,%d,%d,0", u.BaudRate, u.DataBits, u.StopBits, u.ParityCode())
}

func setCAN(baudRate int) string {
	return fmt.Sprintf("AT+CAN=%d", baudRate)
}

// setID writes the identifier without its 0x prefix
func setID(canID string) string {
	return "AT+ID=" + stripHexPrefix(canID)
}

func setFilter(filterID, maskID string) string {
	return fmt.Sprintf("AT+FILTER=%s,%s", filterID, maskID)
}

func setFilterOnly(filterID string) string {
	return "AT+FILTER=" + filterID
}

func setMask(maskID string) string {
	return "AT+MASK=" + maskID
}

func setMode(modeID int) string {
	return fmt.Sprintf("AT+MODE=%d", modeID)
}

func setPerf(targetRate int) string {
	return fmt.Sprintf("AT+PERF=%d", targetRate)
}

func setFrame(frameType string) string {
	if frameType == model.FrameExtended {
		return "AT+FRAME=EXT"
	}
	return "AT+FRAME=STD"
}

func setDirection(direction string) string {
	return "AT+DIR=" + direction
}

func setLength(frameLength int) string {
	return fmt.Sprintf("AT+LEN=%d", frameLength)
}

func stripHexPrefix(id string) string {
	if strings.HasPrefix(id, "0x") || strings.HasPrefix(id, "0X") {
		return id[2:]
	}
	return id
}
