package domain

import "strings"

// ReceiverKind classifies what a Cast receiver can render.
type ReceiverKind int

const (
	ReceiverUnsupported ReceiverKind = iota
	ReceiverVideoCapable
	ReceiverAudioOnly
)

func (k ReceiverKind) String() string {
	switch k {
	case ReceiverVideoCapable:
		return "video"
	case ReceiverAudioOnly:
		return "audio"
	default:
		return "unsupported"
	}
}

// MIMEPrefix is the top-level media type handed to the receiver on load.
func (k ReceiverKind) MIMEPrefix() string {
	switch k {
	case ReceiverVideoCapable:
		return "video"
	case ReceiverAudioOnly:
		return "audio"
	default:
		return ""
	}
}

type Device struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Address     string `json:"address"`
	IsAudioOnly bool   `json:"is_audio_only"`
	Protocol    string `json:"protocol"`
}

// Kind maps a discovered device onto the closed set of supported receivers.
// Anything that is not a Cast receiver is ReceiverUnsupported.
func (d Device) Kind() ReceiverKind {
	if !strings.EqualFold(d.Protocol, "chromecast") {
		return ReceiverUnsupported
	}
	if d.IsAudioOnly {
		return ReceiverAudioOnly
	}
	return ReceiverVideoCapable
}
