package discovery

import (
	"errors"
	"strings"
	"testing"
)

func TestEncodeDecodeServiceTXT(t *testing.T) {
	tests := []struct {
		name string
		info ServiceInfo
		want []string
	}{
		{
			name: "Plain",
			info: ServiceInfo{Instance: "echo", Port: 9443},
			want: []string{"tls=0", "v=1"},
		},
		{
			name: "PlainIgnoresSubject",
			info: ServiceInfo{Instance: "echo", Port: 9443, Subject: "hsm.local"},
			want: []string{"tls=0", "v=1"},
		},
		{
			name: "TLSWithSubjectAndLimit",
			info: ServiceInfo{Instance: "echo", Port: 9443, TLS: true, Subject: "hsm.local", MaxPacketSize: 4096},
			want: []string{"maxpkt=4096", "subject=hsm.local", "tls=1", "v=1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TXTRecordsToStrings(EncodeServiceTXT(&tt.info))
			if strings.Join(got, " ") != strings.Join(tt.want, " ") {
				t.Fatalf("TXT = %v, want %v", got, tt.want)
			}

			var svc Service
			if err := DecodeServiceTXT(StringsToTXTRecords(got), &svc); err != nil {
				t.Fatalf("DecodeServiceTXT() error = %v", err)
			}
			if svc.TLS != tt.info.TLS || svc.MaxPacketSize != tt.info.MaxPacketSize || svc.Version != ProtocolVersion {
				t.Errorf("decoded %+v from %+v", svc, tt.info)
			}
			if tt.info.TLS && svc.Subject != tt.info.Subject {
				t.Errorf("Subject = %q, want %q", svc.Subject, tt.info.Subject)
			}
		})
	}
}

func TestDecodeServiceTXTErrors(t *testing.T) {
	tests := []struct {
		name string
		txt  []string
		want error
	}{
		{"MissingTLS", []string{"v=1"}, ErrMissingRequired},
		{"BadTLS", []string{"tls=yes"}, ErrInvalidTXTRecord},
		{"BadVersion", []string{"tls=1", "v=zero"}, ErrInvalidTXTRecord},
		{"ZeroVersion", []string{"tls=1", "v=0"}, ErrInvalidTXTRecord},
		{"BadMaxPacket", []string{"tls=0", "maxpkt=70000"}, ErrInvalidTXTRecord},
		{"ZeroMaxPacket", []string{"tls=0", "maxpkt=0"}, ErrInvalidTXTRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var svc Service
			err := DecodeServiceTXT(StringsToTXTRecords(tt.txt), &svc)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeServiceTXTDefaultsVersion(t *testing.T) {
	var svc Service
	if err := DecodeServiceTXT(TXTRecordMap{TXTKeyTLS: "1"}, &svc); err != nil {
		t.Fatal(err)
	}
	if svc.Version != 1 || !svc.TLS {
		t.Errorf("svc = %+v", svc)
	}
}

func TestStringsToTXTRecords(t *testing.T) {
	txt := StringsToTXTRecords([]string{"TLS=1", "tls=0", "flag", "", "=orphan", "subject=a=b"})
	if txt["tls"] != "1" {
		t.Errorf("tls = %q, want first occurrence", txt["tls"])
	}
	if v, ok := txt["flag"]; !ok || v != "" {
		t.Errorf("flag = %q, %v", v, ok)
	}
	if txt["subject"] != "a=b" {
		t.Errorf("subject = %q", txt["subject"])
	}
	if len(txt) != 3 {
		t.Errorf("len = %d, want 3: %v", len(txt), txt)
	}
}

func TestValidateInstanceName(t *testing.T) {
	if err := ValidateInstanceName(""); !errors.Is(err, ErrMissingRequired) {
		t.Errorf("empty: %v", err)
	}
	if err := ValidateInstanceName(strings.Repeat("a", 63)); err != nil {
		t.Errorf("63 chars: %v", err)
	}
	if err := ValidateInstanceName(strings.Repeat("a", 64)); !errors.Is(err, ErrInstanceNameTooLong) {
		t.Errorf("64 chars: %v", err)
	}
}

func TestServiceTarget(t *testing.T) {
	svc := &Service{Instance: "echo", Host: "hsm.local.", Port: 9443, Addresses: []string{"fe80::1", "bogus", "192.168.1.20"}}
	host, port := svc.Target()
	if host != "192.168.1.20" || port != 9443 {
		t.Errorf("Target() = %s:%d", host, port)
	}
	if aps := svc.AddrPorts(); len(aps) != 2 || !aps[1].Addr().Is6() {
		t.Errorf("AddrPorts() = %v", aps)
	}
	if svc.String() != "echo (192.168.1.20:9443)" {
		t.Errorf("String() = %q", svc.String())
	}

	svc.Addresses = nil
	host, _ = svc.Target()
	if host != "hsm.local." {
		t.Errorf("Target() host = %q, want host name", host)
	}
}
