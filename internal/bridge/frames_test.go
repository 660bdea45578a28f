package bridge

import (
	"errors"
	"testing"
)

func TestParseProviderFrame(t *testing.T) {
	frame, err := ParseProviderFrame([]byte(`{"event":"start","start":{"streamSid":"MZ1","callSid":"CA1"}}`))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	start := frame.(StartFrame)
	if start.StreamSID != "MZ1" || start.CallSID != "CA1" {
		t.Fatalf("start = %+v", start)
	}

	frame, err = ParseProviderFrame([]byte(`{"event":"media","media":{"timestamp":"12900","payload":"YWJj"}}`))
	if err != nil {
		t.Fatalf("media: %v", err)
	}
	media := frame.(MediaFrame)
	if media.TimestampMS != 12900 || media.Payload != "YWJj" {
		t.Fatalf("media = %+v", media)
	}

	frame, err = ParseProviderFrame([]byte(`{"event":"mark","mark":{"name":"response-chunk"}}`))
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if frame.(MarkFrame).Name != "response-chunk" {
		t.Fatalf("mark = %+v", frame)
	}

	if _, err := ParseProviderFrame([]byte(`{"event":"stop"}`)); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if _, err := ParseProviderFrame([]byte(`{"event":"connected"}`)); !errors.Is(err, ErrUnsupportedFrame) {
		t.Fatalf("connected err = %v, want ErrUnsupportedFrame", err)
	}
	if _, err := ParseProviderFrame([]byte(`{"event":"start","start":{}}`)); err == nil {
		t.Fatalf("start without streamSid must fail")
	}
	if _, err := ParseProviderFrame([]byte(`{"event":"media","media":{"timestamp":"1"}}`)); err == nil {
		t.Fatalf("media without payload must fail")
	}
	if _, err := ParseProviderFrame([]byte(`not json`)); err == nil {
		t.Fatalf("garbage must fail")
	}
}
