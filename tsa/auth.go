package tsa

// F is the proprietary, non-cryptographic keyed mixing function of spec
// §4.6.6. It is NOT a secure MAC — it exists only to reproduce the wire
// protocol byte-for-byte, including its 8-bit wraparound arithmetic.
//
// It iterates over key key_iterations times (key length for a standard
// 6-byte key; 1.5× key length for a 12-byte open-media key, i.e. key
// bytes 0-11 then 0-5 again — both expressed uniformly below as
// key[i % len(key)]). Each iteration walks e[7..0] in descending order,
// consuming apdu from its tail (the tail byte lands in e[7]); e[j] is
// updated in place, so every slot except e[7] observes its neighbor
// e[k] (k=(j+1)%8) after that neighbor's own update in the same
// iteration — a literal transcription of the reference mixing step,
// not a snapshot-then-apply.
func F(nonce [8]byte, apdu []byte, key []byte) [8]byte {
	e := nonce
	iterations := keyIterations(len(key))
	for i := 0; i < iterations; i++ {
		keyByte := key[i%len(key)]
		apduIdx := len(apdu) - 1
		for j := 7; j >= 0; j-- {
			k := (j + 1) % 8
			var m byte
			if apduIdx >= 0 {
				m = apdu[apduIdx]
				apduIdx--
			}
			n := ^(e[j] + byte(j))
			bit := (keyByte >> uint(7-j)) & 1
			if bit == 1 {
				rot := (n << 1) | (n >> 7)
				e[j] = e[k] + m + rot
			} else {
				rot := (n >> 1) | (n << 7)
				e[j] = e[k] + m - rot
			}
		}
	}
	return e
}

func keyIterations(keyLen int) int {
	if keyLen > 6 {
		return keyLen + keyLen/2
	}
	return keyLen
}

// OmaPrefixLen is sizeof(OmaAddress) (7 bytes: selField + up to 6
// address bytes) plus 7 bytes of domain id+length, prepended to the APDU
// before computing F for an open-media reply (spec §4.6.6).
const OmaPrefixLen = 14

// omaPadByte is the fill value for unused fields in the OMA address
// prefix ("padding bytes of unused fields are all-ones").
const omaPadByte = 0xFF

// BuildOmaPrefix canonicalizes the destination address and domain id
// into the 14-byte prefix an open-media reply's F() input requires.
func BuildOmaPrefix(selField byte, addrBytes [6]byte, domainID [6]byte, domainLen uint8) []byte {
	out := make([]byte, 0, OmaPrefixLen)
	out = append(out, selField)
	out = append(out, addrBytes[:]...)
	out = append(out, domainID[:domainLen]...)
	for i := int(domainLen); i < 6; i++ {
		out = append(out, omaPadByte)
	}
	out = append(out, domainLen)
	return out
}
