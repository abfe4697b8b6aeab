// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"fmt"
	"os"

	"github.com/awnumar/memguard"
)

// Secret holds an API key sealed in an encrypted memguard enclave. The key
// never sits in a plain Go string field waiting to be logged or dumped; it
// is decrypted only inside Reveal and the caller is expected to let the
// returned copy go out of scope quickly.
type Secret struct {
	enclave *memguard.Enclave
}

// SecretFromEnv seals the named environment variable. Returns nil when the
// variable is unset or empty, which callers treat as "no key configured".
func SecretFromEnv(name string) *Secret {
	value := os.Getenv(name)
	if value == "" {
		return nil
	}
	return NewSecret([]byte(value))
}

// NewSecret seals raw key material. The input slice is wiped by memguard as
// part of sealing; do not reuse it.
func NewSecret(material []byte) *Secret {
	if len(material) == 0 {
		return nil
	}
	return &Secret{enclave: memguard.NewEnclave(material)}
}

// IsSet reports whether any key material is sealed. Nil receivers are safe
// and report false.
func (s *Secret) IsSet() bool {
	return s != nil && s.enclave != nil
}

// Reveal decrypts the sealed key and returns a transient copy.
func (s *Secret) Reveal() (string, error) {
	if !s.IsSet() {
		return "", fmt.Errorf("llm: no secret material sealed")
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("llm: opening secret enclave: %w", err)
	}
	defer buf.Destroy()
	// buf.String() aliases the locked region and dies with Destroy; the
	// conversion below copies.
	return string(buf.Bytes()), nil
}
