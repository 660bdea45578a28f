package telephony

import (
	"encoding/xml"
	"fmt"
)

// twimlResponse renders the provider instruction document answering an
// inbound-call webhook: connect the call to our media-stream WebSocket.
type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL         string `xml:"url,attr"`
	MaxDuration int    `xml:"maxDuration,attr,omitempty"`
}

// StreamTwiML builds the XML document directing the provider to open a
// media-stream WebSocket to wsURL. maxDurationSec, when positive, caps the
// stream on the provider side as well.
func StreamTwiML(wsURL string, maxDurationSec int) ([]byte, error) {
	doc := twimlResponse{
		Connect: twimlConnect{
			Stream: twimlStream{URL: wsURL, MaxDuration: maxDurationSec},
		},
	}
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal twiml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
