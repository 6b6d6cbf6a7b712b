package identity

import (
	"strconv"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// regionFor maps a calling code such as "61" to its main region ("AU").
// Unknown codes map to "ZZ", which only accepts international input.
func regionFor(countryCode string) string {
	cc, err := strconv.Atoi(countryCode)
	if err != nil {
		return "ZZ"
	}
	return phonenumbers.GetRegionCodeForCountryCode(cc)
}

// parsePhone parses s against the region of countryCode. A leading "00"
// is read as an international dialing prefix in every region.
func parsePhone(s, countryCode string) *phonenumbers.PhoneNumber {
	s = strings.TrimSpace(s)
	if d := phonenumbers.NormalizeDigitsOnly(s); !strings.HasPrefix(s, "+") && strings.HasPrefix(d, "00") {
		s = "+" + d[2:]
	}
	num, err := phonenumbers.Parse(s, regionFor(countryCode))
	if err != nil {
		return nil
	}
	return num
}

// CanonicalPhone converts a phone number in any common format to E.164
// ("+61412345678") using countryCode for national numbers. It returns ""
// when s does not parse as a phone number.
//
//	+61 412 345 678 -> +61412345678 (international)
//	0061412345678   -> +61412345678 (international dialing prefix)
//	0412 345 678    -> +61412345678 (national trunk prefix)
//	61412345678     -> +61412345678 (bare international)
//	412345678       -> +61412345678 (national without trunk)
func CanonicalPhone(s, countryCode string) string {
	num := parsePhone(s, countryCode)
	if num == nil {
		return ""
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

// PhoneVariants returns the representations under which a number may have
// been stored: E.164, national trunk form and bare international digits.
// The E.164 form is always first.
func PhoneVariants(s, countryCode string) []string {
	num := parsePhone(s, countryCode)
	if num == nil {
		return nil
	}
	e164 := phonenumbers.Format(num, phonenumbers.E164)
	out := []string{e164}
	if strconv.Itoa(int(num.GetCountryCode())) == countryCode {
		national := phonenumbers.NormalizeDigitsOnly(phonenumbers.Format(num, phonenumbers.NATIONAL))
		if national != "" && national != e164[1:] {
			out = append(out, national)
		}
	}
	out = append(out, e164[1:])
	if raw := strings.TrimSpace(s); raw != "" && !contains(out, raw) {
		out = append(out, raw)
	}
	return out
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
