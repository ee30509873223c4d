// Package modem drives the cellular radio: the directive vocabulary, an AT
// command engine over a serial port, and the ordered NTN configuration.
package modem

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/ntn-orchestrator/model"
)

// Directive is one radio command. Name is the stable identifier used in logs,
// metrics and fakes; Command is the AT text sent to the modem.
type Directive struct {
	Name    string
	Command string
}

func (d Directive) String() string { return d.Name }

// Directive names.
const (
	NameBypassAuth          = "bypass_auth"
	NameBandLock            = "band_lock"
	NameChannelSelect       = "channel_select"
	NameNTNFeature          = "ntn_feature"
	NameAssistPosition      = "assist_position"
	NameNetworkSelect       = "network_select"
	NameRadioOffline        = "radio_offline"
	NameRequestAttach       = "request_attach"
	NameRadioPowerOff       = "radio_power_off"
	NameRegistrationReports = "registration_reports"
	NamePowerSaving         = "power_saving"
	NameExtendedDRX         = "extended_drx"
)

// BypassAuth puts the modem in the functional mode used before satellite
// attach.
func BypassAuth() Directive { return Directive{NameBypassAuth, "AT+CFUN=12"} }

// BandLock restricts the modem to the bands set in mask.
func BandLock(mask string) Directive {
	return Directive{NameBandLock, fmt.Sprintf("AT%%XBANDLOCK=1,%q", mask)}
}

// ChannelSelect pins the uplink/downlink channel.
func ChannelSelect(spec string) Directive {
	return Directive{NameChannelSelect, "AT%CHSELECT=" + spec}
}

// NTNFeature enables the non-terrestrial feature set.
func NTNFeature(spec string) Directive {
	return Directive{NameNTNFeature, "AT%XNTNFEAT=" + spec}
}

// AssistPosition hands the device position to the modem for Doppler and
// timing pre-compensation. Coordinates are offset and scaled to
// non-negative integers in thousandths; the argument order is lon, lat, alt.
func AssistPosition(p model.Position) Directive {
	lat, lon, alt := EncodeAssistPosition(p)
	return Directive{NameAssistPosition, fmt.Sprintf("AT%%XSETGPSPOS=%d,%d,%d", lon, lat, alt)}
}

// EncodeAssistPosition returns the integer parameters of AssistPosition.
func EncodeAssistPosition(p model.Position) (lat, lon, alt int) {
	lat = 90000 + int(p.Latitude*1000)
	lon = 180000 + int(p.Longitude*1000)
	alt = int(p.Altitude * 1000)
	return lat, lon, alt
}

// NetworkSelect forces manual selection of plmn.
func NetworkSelect(plmn string) Directive {
	return Directive{NameNetworkSelect, fmt.Sprintf("AT+COPS=1,2,%q", plmn)}
}

// RadioOffline turns the radio off while keeping the modem powered.
func RadioOffline() Directive { return Directive{NameRadioOffline, "AT+CFUN=4"} }

// RequestAttach turns the radio on, which starts network attach.
func RequestAttach() Directive { return Directive{NameRequestAttach, "AT+CFUN=1"} }

// RadioPowerOff is the minimum-functionality mode used to reinitialise the
// modem.
func RadioPowerOff() Directive { return Directive{NameRadioPowerOff, "AT+CFUN=0"} }

// RegistrationReports enables +CEREG unsolicited reports.
func RegistrationReports() Directive { return Directive{NameRegistrationReports, "AT+CEREG=5"} }

// PowerSaving requests PSM with the given periodic TAU (T3412) and active
// time (T3324) bit strings.
func PowerSaving(periodicTAU, activeTime string) Directive {
	return Directive{NamePowerSaving, fmt.Sprintf("AT+CPSMS=1,,,%q,%q", periodicTAU, activeTime)}
}

// ExtendedDRX requests eDRX on NB-IoT with the given cycle bit string.
func ExtendedDRX(cycle string) Directive {
	return Directive{NameExtendedDRX, fmt.Sprintf("AT+CEDRXS=2,5,%q", cycle)}
}

// Radio executes directives. Implementations serialise concurrent calls.
type Radio interface {
	Execute(ctx context.Context, d Directive) (string, error)
}

// RegistrationStatus is the <stat> field of a +CEREG report.
type RegistrationStatus int

const (
	NotRegistered      RegistrationStatus = 0
	RegisteredHome     RegistrationStatus = 1
	Searching          RegistrationStatus = 2
	RegistrationDenied RegistrationStatus = 3
	StatusUnknown      RegistrationStatus = 4
	RegisteredRoaming  RegistrationStatus = 5
)

// Registered reports whether s means the device is attached.
func (s RegistrationStatus) Registered() bool {
	return s == RegisteredHome || s == RegisteredRoaming
}

func (s RegistrationStatus) String() string {
	switch s {
	case NotRegistered:
		return "not_registered"
	case RegisteredHome:
		return "registered_home"
	case Searching:
		return "searching"
	case RegistrationDenied:
		return "denied"
	case RegisteredRoaming:
		return "registered_roaming"
	default:
		return "unknown"
	}
}
