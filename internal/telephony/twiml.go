package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It intentionally avoids any provider SDK dependency.
//
// Only include primitives we need at the adapter boundary.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlPlay struct {
	XMLName xml.Name `xml:"Play"`
	Loop    string   `xml:"loop,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

type twimlRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlDial struct {
	XMLName  xml.Name     `xml:"Dial"`
	CallerID string       `xml:"callerId,attr,omitempty"`
	Number   *twimlNumber `xml:"Number,omitempty"`
}

type twimlNumber struct {
	StatusCallback       string `xml:"statusCallback,attr,omitempty"`
	StatusCallbackEvent  string `xml:"statusCallbackEvent,attr,omitempty"`
	StatusCallbackMethod string `xml:"statusCallbackMethod,attr,omitempty"`
	Number               string `xml:",chardata"`
}

// GreetingTwiML plays the greeting and hands the call to the enqueue webhook.
func GreetingTwiML(message, enqueueURL string) (string, error) {
	if strings.TrimSpace(enqueueURL) == "" {
		return "", errors.New("telephony: enqueue url required")
	}
	return render(
		twimlSay{Text: message},
		twimlRedirect{Method: "POST", URL: enqueueURL},
	)
}

// ClosedTwiML plays the closed message and hangs up.
func ClosedTwiML(message string) (string, error) {
	return render(twimlSay{Text: message}, twimlHangup{})
}

func RejectTwiML() (string, error) {
	return render(twimlReject{Reason: "busy"})
}

// HoldTwiML keeps a queued caller waiting. With music the loop never ends;
// without it the caller hears silence and the call re-enters the enqueue
// webhook, which is idempotent.
func HoldTwiML(musicURL, enqueueURL string) (string, error) {
	if musicURL != "" {
		return render(twimlPlay{Loop: "0", URL: musicURL})
	}
	return render(
		twimlPause{Length: 30},
		twimlRedirect{Method: "POST", URL: enqueueURL},
	)
}

// ConnectTwiML dials the agent leg, reporting its status to statusURL.
func ConnectTwiML(callerID, number, statusURL string) (string, error) {
	if strings.TrimSpace(number) == "" {
		return "", errors.New("telephony: dial target required")
	}
	return render(twimlDial{
		CallerID: callerID,
		Number: &twimlNumber{
			StatusCallback:       statusURL,
			StatusCallbackEvent:  "initiated ringing answered completed",
			StatusCallbackMethod: "POST",
			Number:               number,
		},
	})
}

func render(verbs ...any) (string, error) {
	r := twimlResponse{Verbs: verbs}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
