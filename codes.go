/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"crypto/rand"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Hiragana keeps codes short and easy to read aloud or type on a phone.
var codeAlphabet = []rune("あいうえおかきくけこさしすせそたちつてとなにぬねのはひふへほまみむめもやゆよらりるれろわをん")

func genSessionCode(length int) string {
	var b strings.Builder

	for i := 0; i < length; i++ {
		var buf [1]byte
		if _, err := rand.Read(buf[:]); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		b.WriteRune(codeAlphabet[int(buf[0])%len(codeAlphabet)])
	}

	return b.String()
}

func genUserID() string {
	return uuid.NewString()
}

func genConnID() string {
	return uuid.NewString()
}

// normalizeCode matches the forms a code may arrive in from different
// keyboards and clipboards against the form it was generated in.
func normalizeCode(code string) string {
	return norm.NFC.String(strings.TrimSpace(code))
}
