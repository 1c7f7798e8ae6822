package imapcore

import "errors"

// emailIDAlphabet is a base-32 alphabet (the lower-case "extended hex"
// digits 0-9a-v, no padding) used to encode opaque 32-bit document ids
// for EMAILID/THREADID.
const emailIDAlphabet = "0123456789abcdefghijklmnopqrstuv"

var emailIDValue [256]int8

func init() {
	for i := range emailIDValue {
		emailIDValue[i] = -1
	}
	for i := 0; i < len(emailIDAlphabet); i++ {
		emailIDValue[emailIDAlphabet[i]] = int8(i)
	}
}

// FormatEmailID encodes a document id as the opaque string IMAP clients
// see in EMAILID/THREADID.
func FormatEmailID(documentID uint32) string {
	if documentID == 0 {
		return string(emailIDAlphabet[0])
	}
	var buf [7]byte
	i := len(buf)
	v := documentID
	for v > 0 {
		i--
		buf[i] = emailIDAlphabet[v&0x1f]
		v >>= 5
	}
	return string(buf[i:])
}

// ParseEmailID decodes an EMAILID/THREADID string back into a document
// id.
func ParseEmailID(s string) (uint32, error) {
	if s == "" {
		return 0, errors.New("empty id")
	}
	var v uint32
	for i := 0; i < len(s); i++ {
		d := emailIDValue[s[i]]
		if d < 0 {
			return 0, errors.New("invalid id character")
		}
		if v > (1<<27)-1 {
			return 0, errors.New("id overflow")
		}
		v = (v << 5) | uint32(d)
	}
	return v, nil
}
