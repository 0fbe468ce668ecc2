package radar

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/louwxander-cell/Centauri-C2/internal/config"
	"github.com/louwxander-cell/Centauri-C2/internal/errkind"
)

// The radar speaks a line-oriented ASCII command protocol on the same TCP
// connection that later carries the binary track stream. Commands are
// CRLF-terminated; responses are single lines containing either "OK", a
// "CURRENT STATE: ..." report, a numeric value (for queries), or
// "Command Not Available" when the device state forbids the operation.

const (
	cmdIdentify      = "*IDN?"
	cmdSelfTest      = "*TST?"
	cmdResetParams   = "RESET:PARAMETERS"
	cmdStreamStart   = "MODE:SWT:START"
	cmdStreamStop    = "MODE:SWT:STOP"
	cmdOperationMode = "MODE:SWT:OPERATIONMODE"
	cmdSysTime       = "SYS:TIME 0,0"

	respOK           = "OK"
	respNotAvailable = "Command Not Available"
	respStatePrefix  = "CURRENT STATE: SYSTEM_STATE_"
)

// commandTimeout bounds each command/response round-trip so a wedged device
// cannot stall the orchestration loop.
const commandTimeout = 2 * time.Second

// sendCommand writes one CRLF-terminated command and reads one response line.
// The caller must hold d.mu and the connection must not be streaming.
func (d *Driver) sendCommand(cmd string) (string, error) {
	if d.conn == nil {
		return "", errkind.Wrap(errkind.StateError, fmt.Errorf("radar: not connected"))
	}
	if d.state == StateStreaming {
		return "", errkind.Wrap(errkind.DeviceBusy, fmt.Errorf("radar: device rejects %q while streaming", cmd))
	}

	deadline := time.Now().Add(commandTimeout)
	if err := d.conn.SetWriteDeadline(deadline); err != nil {
		return "", errkind.Wrap(errkind.ConnectError, err)
	}
	if _, err := d.conn.Write([]byte(cmd + "\r\n")); err != nil {
		return "", errkind.Wrap(errkind.ConnLost, fmt.Errorf("radar: write %q: %w", cmd, err))
	}

	if err := d.conn.SetReadDeadline(deadline); err != nil {
		return "", errkind.Wrap(errkind.ConnectError, err)
	}
	line, err := d.reader.ReadString('\n')
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return "", errkind.Wrap(errkind.Timeout, fmt.Errorf("radar: no response to %q", cmd))
		}
		return "", errkind.Wrap(errkind.ConnLost, fmt.Errorf("radar: read response to %q: %w", cmd, err))
	}
	resp := strings.TrimRight(line, "\r\n")
	if resp == respNotAvailable {
		return "", errkind.Wrap(errkind.DeviceBusy, fmt.Errorf("radar: %q not available in current device state", cmd))
	}
	if state := parseStateResponse(resp); state != "" {
		d.deviceState = state
	}
	return resp, nil
}

// Identify sends *IDN? and returns the device identification string.
func (d *Driver) Identify() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sendCommand(cmdIdentify)
}

// SelfTest sends *TST? and returns the device self-test report line.
func (d *Driver) SelfTest() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sendCommand(cmdSelfTest)
}

// ResetParameters restores the device's factory parameter set.
func (d *Driver) ResetParameters() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.sendCommand(cmdResetParams)
	return err
}

// SetOperationMode selects the device operation mode.
func (d *Driver) SetOperationMode(mode int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.sendCommand(fmt.Sprintf("%s %d", cmdOperationMode, mode))
	return err
}

// fovCommands expands a RadarConfig into the MODE:SWT FOV set commands, in
// the order the device expects them (search bounds before track bounds).
func fovCommands(cfg config.RadarConfig) []string {
	set := func(group, axis, bound string, v float64) string {
		return fmt.Sprintf("MODE:SWT:%s:%sFOV%s %.1f", group, axis, bound, v)
	}
	return []string{
		set("SEARCH", "AZ", "MIN", cfg.SearchAzFOVMinDeg),
		set("SEARCH", "AZ", "MAX", cfg.SearchAzFOVMaxDeg),
		set("SEARCH", "EL", "MIN", cfg.SearchElFOVMinDeg),
		set("SEARCH", "EL", "MAX", cfg.SearchElFOVMaxDeg),
		set("TRACK", "AZ", "MIN", cfg.TrackAzFOVMinDeg),
		set("TRACK", "AZ", "MAX", cfg.TrackAzFOVMaxDeg),
		set("TRACK", "EL", "MIN", cfg.TrackElFOVMinDeg),
		set("TRACK", "EL", "MAX", cfg.TrackElFOVMaxDeg),
	}
}

// ApplyConfig pushes the search and track FOV bounds to the device, followed
// by a system-time sync. The range bounds and platform orientation in cfg are
// not sent. The device rejects configuration while streaming, so this must
// run in the Idle state; callers configure first, then Start.
func (d *Driver) ApplyConfig(cfg config.RadarConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applyConfigLocked(cfg)
}

func (d *Driver) applyConfigLocked(cfg config.RadarConfig) error {
	if d.state == StateStreaming {
		return errkind.Wrap(errkind.DeviceBusy, fmt.Errorf("radar: cannot configure while streaming"))
	}
	for _, cmd := range fovCommands(cfg) {
		if _, err := d.sendCommand(cmd); err != nil {
			return fmt.Errorf("radar: apply %q: %w", cmd, err)
		}
	}
	if _, err := d.sendCommand(cmdSysTime); err != nil {
		return fmt.Errorf("radar: sync system time: %w", err)
	}
	return nil
}

// QueryFOV reads back one FOV bound, e.g. QueryFOV("SEARCH", "AZ", "MIN").
// The query form appends "?" and the device answers with the numeric value.
func (d *Driver) QueryFOV(group, axis, bound string) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	resp, err := d.sendCommand(fmt.Sprintf("MODE:SWT:%s:%sFOV%s?", group, axis, bound))
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
	if err != nil {
		return 0, errkind.Wrap(errkind.ProtocolError, fmt.Errorf("radar: non-numeric FOV reply %q: %w", resp, err))
	}
	return v, nil
}

// parseStateResponse extracts the device state name from a
// "CURRENT STATE: SYSTEM_STATE_x" line, or "" if the line is not a state
// report.
func parseStateResponse(line string) string {
	if !strings.HasPrefix(line, respStatePrefix) {
		return ""
	}
	return strings.TrimPrefix(line, respStatePrefix)
}

// DeviceState returns the last system state the device reported in a
// command response (STANDBY, IDLE, SWT, SEARCH), or "" if none seen yet.
func (d *Driver) DeviceState() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deviceState
}
