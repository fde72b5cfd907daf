// internal/driver/waveshare/parser.go
package waveshare

import (
	"fmt"
	"strconv"
	"strings"

	"can-bridge-service/internal/model"
)

// ResponseParser folds one query response into the snapshot. It returns
// false when the response carries no payload for it.
type ResponseParser func(response string, snapshot *model.Snapshot) (bool, error)

// Response prefixes
const (
	prefixUART   = "+UART:"
	prefixCAN    = "+CAN:"
	prefixID     = "+ID:"
	prefixFilter = "+FILTER:"
	prefixMode   = "+MODE:"
	prefixPerf   = "+PERF:"
	prefixProto  = "+PROTO:"
	prefixStatus = "+STATUS:"
	prefixInfo   = "+INFO:"
)

// payload returns the text after prefix up to the end of its line
func payload(response, prefix string) (string, bool) {
	idx := strings.Index(response, prefix)
	if idx < 0 {
		return "", false
	}
	rest := response[idx+len(prefix):]
	if end := strings.IndexAny(rest, "\r\n"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest), true
}

func fields(response, prefix string, min int) ([]string, bool, error) {
	text, ok := payload(response, prefix)
	if !ok {
		return nil, false, nil
	}
	parts := strings.Split(text, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < min {
		return nil, true, malformed(prefix, "expected %d fields, got %d", min, len(parts))
	}
	return parts, true, nil
}

func atoi(prefix, field, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, malformed(prefix, "%s %q is not a number", field, value)
	}
	return n, nil
}

func malformed(prefix, format string, args ...interface{}) error {
	return model.Errorf(model.KindMalformedResponse, "parse "+strings.Trim(prefix, "+:"), format, args...)
}

func oneOf(values []int, v int) bool {
	for _, allowed := range values {
		if allowed == v {
			return true
		}
	}
	return false
}

// ParseUART handles +UART:baud,data,stop,parity,flow
func ParseUART(response string, snapshot *model.Snapshot) (bool, error) {
	parts, found, err := fields(response, prefixUART, 5)
	if !found || err != nil {
		return found, err
	}

	uart := snapshot.UartConfig
	if uart.BaudRate, err = atoi(prefixUART, "baud_rate", parts[0]); err != nil {
		return true, err
	}
	if uart.DataBits, err = atoi(prefixUART, "data_bits", parts[1]); err != nil {
		return true, err
	}
	if uart.StopBits, err = atoi(prefixUART, "stop_bits", parts[2]); err != nil {
		return true, err
	}
	if !oneOf(model.ValidUARTBaudRates, uart.BaudRate) {
		return true, malformed(prefixUART, "unsupported baud rate %d", uart.BaudRate)
	}
	if uart.DataBits != 7 && uart.DataBits != 8 {
		return true, malformed(prefixUART, "data bits must be 7 or 8, got %d", uart.DataBits)
	}
	if uart.StopBits != 1 && uart.StopBits != 2 {
		return true, malformed(prefixUART, "stop bits must be 1 or 2, got %d", uart.StopBits)
	}

	uart.Parity = "E"
	if parts[3] == "0" {
		uart.Parity = "N"
	}
	uart.FlowControl = "hardware"
	if parts[4] == "0" {
		uart.FlowControl = "none"
	}

	snapshot.UartConfig = uart
	return true, nil
}

// ParseCAN handles +CAN:baud
func ParseCAN(response string, snapshot *model.Snapshot) (bool, error) {
	text, found := payload(response, prefixCAN)
	if !found {
		return false, nil
	}
	baud, err := atoi(prefixCAN, "baud_rate", text)
	if err != nil {
		return true, err
	}
	if !oneOf(model.ValidCANBaudRates, baud) {
		return true, malformed(prefixCAN, "unsupported CAN baud rate %d", baud)
	}
	snapshot.CanConfig.BaudRate = baud
	return true, nil
}

// ParseID handles +ID:id. The id must fit the snapshot's frame type.
func ParseID(response string, snapshot *model.Snapshot) (bool, error) {
	text, found := payload(response, prefixID)
	if !found {
		return false, nil
	}
	id, err := model.NormalizeCANID(text)
	if err != nil {
		return true, malformed(prefixID, "%v", err)
	}
	if err := model.ValidateCANID(id, snapshot.CanConfig.FrameType); err != nil {
		return true, malformed(prefixID, "%v", err)
	}
	snapshot.CanConfig.CanID = id
	return true, nil
}

// ParseFilter handles +FILTER:filter,mask
func ParseFilter(response string, snapshot *model.Snapshot) (bool, error) {
	parts, found, err := fields(response, prefixFilter, 2)
	if !found || err != nil {
		return found, err
	}

	filterID, err := model.NormalizeCANID(parts[0])
	if err == nil {
		err = model.ValidateCANID(filterID, model.FrameExtended)
	}
	if err != nil {
		return true, malformed(prefixFilter, "filter: %v", err)
	}
	maskID, err := model.NormalizeCANID(parts[1])
	if err == nil {
		err = model.ValidateCANID(maskID, model.FrameExtended)
	}
	if err != nil {
		return true, malformed(prefixFilter, "mask: %v", err)
	}

	snapshot.CanConfig.FilterID = filterID
	snapshot.CanConfig.MaskID = maskID
	return true, nil
}

// ParseMode handles +MODE:n
func ParseMode(response string, snapshot *model.Snapshot) (bool, error) {
	text, found := payload(response, prefixMode)
	if !found {
		return false, nil
	}
	id, err := atoi(prefixMode, "mode", text)
	if err != nil {
		return true, err
	}

	mode := snapshot.WorkingMode
	if err := mode.SetModeID(id); err != nil {
		return true, malformed(prefixMode, "%v", err)
	}
	snapshot.WorkingMode = mode
	return true, nil
}

// ParsePerf handles +PERF:rate
func ParsePerf(response string, snapshot *model.Snapshot) (bool, error) {
	text, found := payload(response, prefixPerf)
	if !found {
		return false, nil
	}
	rate, err := atoi(prefixPerf, "target_rate", text)
	if err != nil {
		return true, err
	}
	if rate <= 0 {
		return true, malformed(prefixPerf, "target rate must be positive, got %d", rate)
	}
	snapshot.Performance.TargetRate = rate
	return true, nil
}

// ParseProto handles +PROTO:n
func ParseProto(response string, snapshot *model.Snapshot) (bool, error) {
	text, found := payload(response, prefixProto)
	if !found {
		return false, nil
	}
	code, err := atoi(prefixProto, "protocol", text)
	if err != nil {
		return true, err
	}
	name, err := model.ProtocolName(code)
	if err != nil {
		return true, malformed(prefixProto, "%v", err)
	}
	snapshot.Protocol.ProtocolType = name
	return true, nil
}

// ParseStatus handles +STATUS:state,errors,frames
func ParseStatus(response string, snapshot *model.Snapshot) (bool, error) {
	parts, found, err := fields(response, prefixStatus, 3)
	if !found || err != nil {
		return found, err
	}

	status := snapshot.Status
	status.Connected = parts[0] == tokenOK
	if status.ErrorCount, err = atoi(prefixStatus, "error_count", parts[1]); err != nil {
		return true, err
	}
	if status.FrameCount, err = atoi(prefixStatus, "frame_count", parts[2]); err != nil {
		return true, err
	}
	if status.ErrorCount < 0 || status.FrameCount < 0 {
		return true, malformed(prefixStatus, "counters must not be negative")
	}

	snapshot.Status = status
	return true, nil
}

// ParseInfo handles +INFO:model,firmware,hardware,serial
func ParseInfo(response string, snapshot *model.Snapshot) (bool, error) {
	parts, found, err := fields(response, prefixInfo, 4)
	if !found || err != nil {
		return found, err
	}

	info := snapshot.DeviceInfo
	info.Model = parts[0]
	info.FirmwareVersion = parts[1]
	info.HardwareVersion = parts[2]
	info.SerialNumber = parts[3]
	snapshot.DeviceInfo = info
	return true, nil
}

// query pairs an AT query with the prefix and parser of its answer
type query struct {
	command string
	prefix  string
	parse   ResponseParser
}

// section is one unit of the read sequence
type section struct {
	name    string
	queries []query
}

// readSections is the fixed read order
var readSections = []section{
	{name: "uart", queries: []query{
		{AT_COMMANDS.QUERY_UART, prefixUART, ParseUART},
	}},
	{name: "can", queries: []query{
		{AT_COMMANDS.QUERY_CAN, prefixCAN, ParseCAN},
		{AT_COMMANDS.QUERY_ID, prefixID, ParseID},
		{AT_COMMANDS.QUERY_FILTER, prefixFilter, ParseFilter},
	}},
	{name: "mode", queries: []query{
		{AT_COMMANDS.QUERY_MODE, prefixMode, ParseMode},
	}},
	{name: "performance", queries: []query{
		{AT_COMMANDS.QUERY_PERF, prefixPerf, ParsePerf},
	}},
	{name: "protocol", queries: []query{
		{AT_COMMANDS.QUERY_PROTO, prefixProto, ParseProto},
	}},
	{name: "status", queries: []query{
		{AT_COMMANDS.QUERY_STATUS, prefixStatus, ParseStatus},
		{AT_COMMANDS.QUERY_INFO, prefixInfo, ParseInfo},
	}},
}

// SectionNames lists the read sections in order
func SectionNames() []string {
	names := make([]string, len(readSections))
	for i, s := range readSections {
		names[i] = s.name
	}
	return names
}

func describeQuery(q query) string {
	return fmt.Sprintf("%s (%s)", q.command, q.prefix)
}
