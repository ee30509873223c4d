package modem

import (
	"bufio"
	"context"
	"errors"
	"net"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/ntn-orchestrator/internal/config"
	"github.com/signalsfoundry/ntn-orchestrator/model"
)

func TestDirectiveCommands(t *testing.T) {
	cfg := config.Default()
	cases := []struct {
		d    Directive
		want string
	}{
		{BypassAuth(), "AT+CFUN=12"},
		{BandLock(cfg.Radio.BandMask), `AT%XBANDLOCK=1,"1` + strings.Repeat("0", 63) + `"`},
		{ChannelSelect(cfg.Radio.ChannelSelect), "AT%CHSELECT=2,9,66296"},
		{NTNFeature(cfg.Radio.NTNFeature), "AT%XNTNFEAT=0,1"},
		{NetworkSelect(cfg.Radio.PLMN), `AT+COPS=1,2,"90197"`},
		{RadioOffline(), "AT+CFUN=4"},
		{RequestAttach(), "AT+CFUN=1"},
		{PowerSaving(cfg.Power.PeriodicTAU, cfg.Power.ActiveTime), `AT+CPSMS=1,,,"01000010","00000001"`},
		{ExtendedDRX(cfg.Power.EDRXCycle), `AT+CEDRXS=2,5,"1001"`},
	}
	for _, tc := range cases {
		if tc.d.Command != tc.want {
			t.Fatalf("%s command = %q, want %q", tc.d.Name, tc.d.Command, tc.want)
		}
	}
}

func TestAssistPositionEncoding(t *testing.T) {
	p := model.Position{Latitude: 41.3874, Longitude: 2.1686, Altitude: 12.5, Valid: true}
	lat, lon, alt := EncodeAssistPosition(p)
	if lat != 131387 || lon != 182168 || alt != 12500 {
		t.Fatalf("encode = %d,%d,%d, want 131387,182168,12500", lat, lon, alt)
	}
	if got := AssistPosition(p).Command; got != "AT%XSETGPSPOS=182168,131387,12500" {
		t.Fatalf("command = %q", got)
	}

	south := model.Position{Latitude: -33.5, Longitude: -70.25}
	lat, lon, _ = EncodeAssistPosition(south)
	if lat != 56500 || lon != 109750 {
		t.Fatalf("southern encode = %d,%d, want 56500,109750", lat, lon)
	}
}

func TestParseRegistration(t *testing.T) {
	cases := []struct {
		line string
		want RegistrationStatus
	}{
		{"+CEREG: 5", RegisteredRoaming},
		{`+CEREG: 1,"0012","0001A2B3",9`, RegisteredHome},
		{`+CEREG: 5,1,"0012","0001A2B3",9`, RegisteredHome},
		{"+CEREG: 5,0", NotRegistered},
		{"+CEREG: 2,,,", Searching},
	}
	for _, tc := range cases {
		got, err := ParseRegistration(tc.line)
		if err != nil {
			t.Fatalf("ParseRegistration(%q): %v", tc.line, err)
		}
		if got != tc.want {
			t.Fatalf("ParseRegistration(%q) = %v, want %v", tc.line, got, tc.want)
		}
	}
	if _, err := ParseRegistration("+CEREG: x"); err == nil {
		t.Fatalf("expected error for non-numeric stat")
	}
	if !RegisteredRoaming.Registered() || RegistrationDenied.Registered() {
		t.Fatalf("Registered() mismatch")
	}
}

// fakeDevice answers AT commands on the far end of a pipe.
type fakeDevice struct {
	conn    net.Conn
	replies map[string][]string
}

func (d *fakeDevice) serve() {
	r := bufio.NewReader(d.conn)
	for {
		cmd, err := r.ReadString('\r')
		if err != nil {
			return
		}
		cmd = strings.TrimSpace(cmd)
		reply, ok := d.replies[cmd]
		if !ok {
			reply = []string{"OK"}
		}
		out := cmd + "\r\n"
		for _, l := range reply {
			out += l + "\r\n"
		}
		if _, err := d.conn.Write([]byte(out)); err != nil {
			return
		}
	}
}

func newPipeModem(t *testing.T, replies map[string][]string) (*ATModem, net.Conn) {
	t.Helper()
	host, device := net.Pipe()
	t.Cleanup(func() {
		host.Close()
		device.Close()
	})
	go (&fakeDevice{conn: device, replies: replies}).serve()

	m := NewATModem(host, time.Second, nil)
	m.Start(context.Background())
	return m, device
}

func TestATModemExecute(t *testing.T) {
	m, _ := newPipeModem(t, map[string][]string{
		`AT%XBANDLOCK=1,"10"`: {"ERROR"},
		"AT+CGSN":             {"352656100000000", "OK"},
		"AT+CFUN=0":           {"+CME ERROR: 518"},
	})
	ctx := context.Background()

	if _, err := m.Execute(ctx, RequestAttach()); err != nil {
		t.Fatalf("RequestAttach: %v", err)
	}
	resp, err := m.Execute(ctx, Directive{Name: "imei", Command: "AT+CGSN"})
	if err != nil || resp != "352656100000000" {
		t.Fatalf("imei = %q,%v", resp, err)
	}
	if _, err := m.Execute(ctx, BandLock("10")); !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("BandLock err = %v, want ErrCommandFailed", err)
	}
	if _, err := m.Execute(ctx, RadioPowerOff()); !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("CME error = %v, want ErrCommandFailed", err)
	}
}

func TestATModemTimeout(t *testing.T) {
	host, device := net.Pipe()
	defer host.Close()
	defer device.Close()
	go func() {
		buf := make([]byte, 64)
		for {
			if _, err := device.Read(buf); err != nil {
				return
			}
		}
	}()

	m := NewATModem(host, 20*time.Millisecond, nil)
	m.Start(context.Background())
	if _, err := m.Execute(context.Background(), RequestAttach()); !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("err = %v, want ErrCommandTimeout", err)
	}
}

func TestATModemDeliversRegistrationReports(t *testing.T) {
	m, device := newPipeModem(t, nil)
	got := make(chan RegistrationStatus, 4)
	m.OnRegistration(func(s RegistrationStatus) { got <- s })

	go device.Write([]byte("\r\n+CEREG: 2\r\n+CEREG: 5,\"0012\",\"0001A2B3\",9\r\n"))

	for _, want := range []RegistrationStatus{Searching, RegisteredRoaming} {
		select {
		case s := <-got:
			if s != want {
				t.Fatalf("status = %v, want %v", s, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("no registration report for %v", want)
		}
	}
}

func TestATModemClosedPort(t *testing.T) {
	m, device := newPipeModem(t, nil)
	device.Close()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := m.Execute(context.Background(), RequestAttach()); errors.Is(err, ErrPortClosed) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Execute never reported ErrPortClosed")
}

func TestPreAttachOrder(t *testing.T) {
	radio := NewFakeRadio()
	c := NewConfigurator(radio, config.Default(), nil)

	pos := model.Position{Latitude: 41.4, Longitude: 2.17, Valid: true}
	if err := c.PreAttach(context.Background(), pos); err != nil {
		t.Fatalf("PreAttach: %v", err)
	}
	want := []string{NameBypassAuth, NameBandLock, NameChannelSelect, NameNTNFeature, NameAssistPosition, NameNetworkSelect}
	if got := radio.Executed(); !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestPreAttachSkipsAssistWithoutFixAndToleratesItsFailure(t *testing.T) {
	radio := NewFakeRadio()
	c := NewConfigurator(radio, config.Default(), nil)

	if err := c.PreAttach(context.Background(), model.Position{}); err != nil {
		t.Fatalf("PreAttach: %v", err)
	}
	if radio.Count(NameAssistPosition) != 0 {
		t.Fatalf("assisted position sent without a fix")
	}

	radio.FailAlways(NameAssistPosition)
	if err := c.PreAttach(context.Background(), model.Position{Valid: true}); err != nil {
		t.Fatalf("assist failure should not abort: %v", err)
	}
}

func TestPreAttachFailure(t *testing.T) {
	radio := NewFakeRadio()
	radio.FailAlways(NameChannelSelect)
	c := NewConfigurator(radio, config.Default(), nil)

	err := c.PreAttach(context.Background(), model.Position{})
	if !errors.Is(err, model.ErrConfigurationFailure) {
		t.Fatalf("err = %v, want ErrConfigurationFailure", err)
	}
	if radio.Count(NameNetworkSelect) != 0 {
		t.Fatalf("sequence should stop at the first failure")
	}
}

func TestPreAttachTerrestrialIsNoop(t *testing.T) {
	radio := NewFakeRadio()
	cfg := config.Default()
	cfg.Phase = config.PhaseTN
	if err := NewConfigurator(radio, cfg, nil).PreAttach(context.Background(), model.Position{Valid: true}); err != nil {
		t.Fatalf("PreAttach: %v", err)
	}
	if n := len(radio.Executed()); n != 0 {
		t.Fatalf("terrestrial mode issued %d directives", n)
	}
}

func TestPowerSavingToleratesEDRXFailure(t *testing.T) {
	radio := NewFakeRadio()
	radio.FailAlways(NameExtendedDRX)
	c := NewConfigurator(radio, config.Default(), nil)
	if err := c.PowerSaving(context.Background()); err != nil {
		t.Fatalf("eDRX failure should only warn: %v", err)
	}

	radio.FailAlways(NamePowerSaving)
	if err := c.PowerSaving(context.Background()); err == nil {
		t.Fatalf("PSM failure should be returned")
	}
}
