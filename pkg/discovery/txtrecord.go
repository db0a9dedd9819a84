package discovery

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeServiceTXT creates the TXT records for info.
func EncodeServiceTXT(info *ServiceInfo) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyVersion: strconv.Itoa(ProtocolVersion),
		TXTKeyTLS:     "0",
	}
	if info.TLS {
		txt[TXTKeyTLS] = "1"
		if info.Subject != "" {
			txt[TXTKeySubject] = info.Subject
		}
	}
	if info.MaxPacketSize > 0 {
		txt[TXTKeyMaxPacket] = strconv.Itoa(info.MaxPacketSize)
	}
	return txt
}

// DecodeServiceTXT parses TXT records into svc. tls is required; the other
// keys are optional. A missing version is treated as 1.
func DecodeServiceTXT(txt TXTRecordMap, svc *Service) error {
	tlsStr, ok := txt[TXTKeyTLS]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyTLS)
	}
	switch tlsStr {
	case "0":
		svc.TLS = false
	case "1":
		svc.TLS = true
	default:
		return fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, TXTKeyTLS, tlsStr)
	}

	svc.Version = ProtocolVersion
	if v, ok := txt[TXTKeyVersion]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, TXTKeyVersion, v)
		}
		svc.Version = n
	}

	svc.Subject = txt[TXTKeySubject]

	if v, ok := txt[TXTKeyMaxPacket]; ok {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil || n == 0 {
			return fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, TXTKeyMaxPacket, v)
		}
		svc.MaxPacketSize = int(n)
	}
	return nil
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
// Keys are case-insensitive and the first occurrence wins.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, _ := strings.Cut(s, "=")
		k = strings.ToLower(k)
		if k == "" {
			continue
		}
		if _, dup := txt[k]; !dup {
			txt[k] = v
		}
	}
	return txt
}

// txtSize is the encoded size of the TXT strings: one length byte each.
func txtSize(strs []string) int {
	n := 0
	for _, s := range strs {
		n += 1 + len(s)
	}
	return n
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty instance name", ErrMissingRequired)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
