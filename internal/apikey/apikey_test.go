package apikey

import "testing"

func TestGenerateAndVerify(t *testing.T) {
	g, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if g.Raw == "" || g.Fingerprint == "" || g.Hash == "" {
		t.Fatal("Generate() returned empty field")
	}

	ok, err := Verify(g.Raw, g.Hash)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Error("Verify() = false, want true for the key that was just minted")
	}

	if Fingerprint(g.Raw) != g.Fingerprint {
		t.Error("Fingerprint(raw) does not match the fingerprint returned by Generate")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	g, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	other, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	ok, err := Verify(other.Raw, g.Hash)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if ok {
		t.Error("Verify() = true for a key that does not match the hash")
	}
}

func TestFingerprintIsDeterministic(t *testing.T) {
	if Fingerprint("camp_abc") != Fingerprint("camp_abc") {
		t.Error("Fingerprint is not deterministic for the same input")
	}
	if Fingerprint("camp_abc") == Fingerprint("camp_def") {
		t.Error("Fingerprint collided for distinct inputs")
	}
}
