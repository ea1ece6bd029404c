package provlog

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"testing"

	mh "github.com/multiformats/go-multihash"
)

// identity is a test author: a long-lived key pair plus the one-shot
// ephemeral pair used to self-sign the genesis entry.
type identity struct {
	pub       ed25519.PublicKey
	priv      ed25519.PrivateKey
	ephemPub  ed25519.PublicKey
	ephemPriv ed25519.PrivateKey
}

func newIdentity(t *testing.T) *identity {
	t.Helper()
	id := &identity{}
	id.pub, id.priv = testKeyPair(t)
	id.ephemPub, id.ephemPriv = testKeyPair(t)
	return id
}

func signer(priv ed25519.PrivateKey) func(*Entry) ([]byte, error) {
	return func(e *Entry) ([]byte, error) {
		return ed25519.Sign(priv, e.EncodeProofErased()), nil
	}
}

var (
	unlockSig = CodeScript(RootKey(), `push("/entry/"); push("/entry/proof")`)
	rootLock  = CodeScript(RootKey(), `check_signature("/pubkey")`)
)

func freshVlad(t *testing.T) Vlad {
	t.Helper()
	c, err := DefaultFirstLock().CID()
	if err != nil {
		t.Fatal(err)
	}
	nonce := make([]byte, 8)
	for i := range nonce {
		nonce[i] = byte(i + 1)
	}
	return NewVlad(nonce, c)
}

// genesis builds and appends a self-signed genesis entry carrying the
// given extra ops and next-entry locks.
func genesis(t *testing.T, l *Log, id *identity, locks []Script, extra ...Op) *Entry {
	t.Helper()
	b := NewEntryBuilder().
		WithVlad(l.Vlad).
		WithSeqno(0).
		AddOp(Update(MustKey("/ephemeral"), DataValue(EncodePublicKey(id.ephemPub)))).
		AddOp(Update(MustKey("/pubkey"), DataValue(EncodePublicKey(id.pub)))).
		WithLocks(locks...).
		WithUnlock(unlockSig)
	for _, op := range extra {
		b = b.AddOp(op)
	}
	e, err := b.Build(signer(id.ephemPriv))
	if err != nil {
		t.Fatalf("build genesis: %v", err)
	}
	return e
}

// buildBasicLog creates a log with a genesis entry and n-1 appended
// entries, all governed by the root signature lock.
func buildBasicLog(t *testing.T, n int) (*Log, *identity, []*Entry) {
	t.Helper()
	id := newIdentity(t)
	l := NewLog(freshVlad(t), DefaultFirstLock())

	e0 := genesis(t, l, id, []Script{rootLock})
	if _, err := l.TryAppend(e0, Config{}); err != nil {
		t.Fatalf("append genesis: %v", err)
	}
	entries := []*Entry{e0}

	for i := 1; i < n; i++ {
		b, err := l.NextBuilder()
		if err != nil {
			t.Fatalf("next builder %d: %v", i, err)
		}
		e, err := b.
			AddOp(Update(MustKey("/name"), StrValue(fmt.Sprintf("v%d", i)))).
			WithLocks(rootLock).
			WithUnlock(unlockSig).
			Build(signer(id.priv))
		if err != nil {
			t.Fatalf("build entry %d: %v", i, err)
		}
		if _, err := l.TryAppend(e, Config{}); err != nil {
			t.Fatalf("append entry %d: %v", i, err)
		}
		entries = append(entries, e)
	}
	return l, id, entries
}

func TestGenesisSelfSigned(t *testing.T) {
	// S1: the genesis entry is accepted under the implied ephemeral
	// lock with the best possible precedence.
	id := newIdentity(t)
	l := NewLog(freshVlad(t), DefaultFirstLock())
	e0 := genesis(t, l, id, []Script{rootLock})

	p, err := l.TryAppend(e0, Config{})
	if err != nil {
		t.Fatalf("genesis rejected: %v", err)
	}
	if p != (Precedence{0, 0, 0}) {
		t.Errorf("precedence = %+v, want (0,0,0)", p)
	}
	if l.Foot != l.Head || !l.Head.Defined() {
		t.Error("foot and head must both point at the genesis entry")
	}
}

func TestGenesisWrongSigner(t *testing.T) {
	id := newIdentity(t)
	other := newIdentity(t)
	l := NewLog(freshVlad(t), DefaultFirstLock())

	b := NewEntryBuilder().
		WithVlad(l.Vlad).
		WithSeqno(0).
		AddOp(Update(MustKey("/ephemeral"), DataValue(EncodePublicKey(id.ephemPub)))).
		AddOp(Update(MustKey("/pubkey"), DataValue(EncodePublicKey(id.pub)))).
		WithLocks(rootLock).
		WithUnlock(unlockSig)
	e0, err := b.Build(signer(other.ephemPriv))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.TryAppend(e0, Config{}); !errors.Is(err, ErrLockFailed) {
		t.Errorf("error = %v, want ErrLockFailed", err)
	}
}

func TestAppendAndReplay(t *testing.T) {
	// S2: an append under the root lock, then the replayed state.
	l, _, _ := buildBasicLog(t, 2)

	state, err := l.Replay()
	if err != nil {
		t.Fatal(err)
	}
	v, ok := state.Get(MustKey("/name"))
	if !ok || v.Str != "v1" {
		t.Errorf("replayed /name = %v %v, want v1", v, ok)
	}
	if _, ok := state.Get(MustKey("/pubkey")); !ok {
		t.Error("replayed state lost /pubkey")
	}
	if _, ok := state.Get(MustKey("/ephemeral")); !ok {
		t.Error("replayed state lost /ephemeral")
	}
}

func TestChainCoherence(t *testing.T) {
	l, _, entries := buildBasicLog(t, 6)

	for i := 1; i < len(entries); i++ {
		prev, err := entries[i-1].CID()
		if err != nil {
			t.Fatal(err)
		}
		if entries[i].Prev != prev {
			t.Errorf("entry %d prev mismatch", i)
		}
		if i >= 2 {
			want, err := entries[Lipmaa(uint64(i))].CID()
			if err != nil {
				t.Fatal(err)
			}
			if entries[i].Lipmaa != want {
				t.Errorf("entry %d lipmaa points past L(%d)=%d", i, i, Lipmaa(uint64(i)))
			}
		}
	}
	if err := l.Verify(Config{}); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestBrokenChainRejected(t *testing.T) {
	l, id, _ := buildBasicLog(t, 2)

	// Wrong seqno.
	bad, err := NewEntryBuilder().
		WithVlad(l.Vlad).
		WithSeqno(5).
		WithPrev(l.Head).
		WithLipmaa(l.Head).
		AddOp(Update(MustKey("/x"), StrValue("y"))).
		WithLocks(rootLock).
		WithUnlock(unlockSig).
		Build(signer(id.priv))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Validate(bad, Config{}); !errors.Is(err, ErrBrokenChain) {
		t.Errorf("seqno jump: error = %v, want ErrBrokenChain", err)
	}

	// Wrong prev link.
	wrongPrev, err := l.Entries[l.Foot].CID()
	if err != nil {
		t.Fatal(err)
	}
	bad2, err := NewEntryBuilder().
		WithVlad(l.Vlad).
		WithSeqno(2).
		WithPrev(wrongPrev).
		WithLipmaa(wrongPrev).
		AddOp(Update(MustKey("/x"), StrValue("y"))).
		WithLocks(rootLock).
		WithUnlock(unlockSig).
		Build(signer(id.priv))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Validate(bad2, Config{}); !errors.Is(err, ErrBrokenChain) {
		t.Errorf("wrong prev: error = %v, want ErrBrokenChain", err)
	}
}

// delegationLog builds a log whose head locks delegate "/delegated/"
// and whose state records mike's key under /delegated/mike/.
func delegationLog(t *testing.T) (*Log, *identity, *identity, []Script) {
	t.Helper()
	id := newIdentity(t)
	mike := newIdentity(t)
	l := NewLog(freshVlad(t), DefaultFirstLock())

	delegated := CodeScript(MustKey("/delegated/"), `check_signature(branch("pubkey"))`)
	locks := []Script{rootLock, delegated}

	e0 := genesis(t, l, id, locks,
		Update(MustKey("/delegated/mike/pubkey"), DataValue(EncodePublicKey(mike.pub))))
	if _, err := l.TryAppend(e0, Config{}); err != nil {
		t.Fatalf("append genesis: %v", err)
	}
	return l, id, mike, locks
}

func TestDelegation(t *testing.T) {
	// S3: mike can only write under /delegated/ and wins through the
	// deeper lock after the root lock fails.
	l, _, mike, locks := delegationLog(t)

	b, err := l.NextBuilder()
	if err != nil {
		t.Fatal(err)
	}
	e, err := b.
		AddOp(Update(MustKey("/delegated/mike/endpoint"), StrValue("https://x"))).
		WithLocks(locks...).
		WithUnlock(unlockSig).
		Build(signer(mike.priv))
	if err != nil {
		t.Fatal(err)
	}

	p, err := l.TryAppend(e, Config{})
	if err != nil {
		t.Fatalf("delegated append rejected: %v", err)
	}
	if p != (Precedence{1, 0, 2}) {
		t.Errorf("precedence = %+v, want (1,0,2)", p)
	}
}

func TestDelegationCannotEscape(t *testing.T) {
	// mike's key only satisfies the /delegated/ lock; an op outside
	// that branch leaves the root lock as the only eligible one.
	l, _, mike, locks := delegationLog(t)

	b, err := l.NextBuilder()
	if err != nil {
		t.Fatal(err)
	}
	e, err := b.
		AddOp(Update(MustKey("/name"), StrValue("hijack"))).
		WithLocks(locks...).
		WithUnlock(unlockSig).
		Build(signer(mike.priv))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.TryAppend(e, Config{}); !errors.Is(err, ErrLockFailed) {
		t.Errorf("error = %v, want ErrLockFailed", err)
	}
}

func TestPrecedenceOverride(t *testing.T) {
	// S4: competing entries for the same seqno; the root-lock win
	// outranks the delegated win.
	l, id, mike, locks := delegationLog(t)

	b, err := l.NextBuilder()
	if err != nil {
		t.Fatal(err)
	}
	ownerEntry, err := b.
		AddOp(Update(MustKey("/name"), StrValue("owner"))).
		WithLocks(locks...).
		WithUnlock(unlockSig).
		Build(signer(id.priv))
	if err != nil {
		t.Fatal(err)
	}

	b2, err := l.NextBuilder()
	if err != nil {
		t.Fatal(err)
	}
	mikeEntry, err := b2.
		AddOp(Update(MustKey("/delegated/mike/endpoint"), StrValue("https://x"))).
		WithLocks(locks...).
		WithUnlock(unlockSig).
		Build(signer(mike.priv))
	if err != nil {
		t.Fatal(err)
	}

	pOwner, err := l.Validate(ownerEntry, Config{})
	if err != nil {
		t.Fatalf("owner entry rejected: %v", err)
	}
	pMike, err := l.Validate(mikeEntry, Config{})
	if err != nil {
		t.Fatalf("mike entry rejected: %v", err)
	}
	if !pOwner.Less(pMike) {
		t.Errorf("owner %+v must outrank delegate %+v", pOwner, pMike)
	}
}

func TestRecoveryPrecedence(t *testing.T) {
	// S5: signature beats preimage because it fails fewer checks on
	// the way to success.
	id := newIdentity(t)
	l := NewLog(freshVlad(t), DefaultFirstLock())

	secret := []byte("recovery secret")
	digest, err := mh.Sum(secret, mh.SHA2_256, -1)
	if err != nil {
		t.Fatal(err)
	}
	recovery := CodeScript(RootKey(),
		`check_signature("/tpubkey") || check_signature("/pubkey") || check_preimage("/hash")`)
	locks := []Script{recovery}

	e0 := genesis(t, l, id, locks, Update(MustKey("/hash"), DataValue(digest)))
	if _, err := l.TryAppend(e0, Config{}); err != nil {
		t.Fatalf("append genesis: %v", err)
	}

	b, err := l.NextBuilder()
	if err != nil {
		t.Fatal(err)
	}
	preimageEntry, err := b.
		AddOp(Update(MustKey("/recovered"), StrValue("by-preimage"))).
		WithLocks(locks...).
		WithUnlock(CodeScript(RootKey(), `push("/entry/proof")`)).
		Build(func(*Entry) ([]byte, error) { return secret, nil })
	if err != nil {
		t.Fatal(err)
	}

	b2, err := l.NextBuilder()
	if err != nil {
		t.Fatal(err)
	}
	sigEntry, err := b2.
		AddOp(Update(MustKey("/recovered"), StrValue("by-signature"))).
		WithLocks(locks...).
		WithUnlock(unlockSig).
		Build(signer(id.priv))
	if err != nil {
		t.Fatal(err)
	}

	pPreimage, err := l.Validate(preimageEntry, Config{})
	if err != nil {
		t.Fatalf("preimage entry rejected: %v", err)
	}
	pSig, err := l.Validate(sigEntry, Config{})
	if err != nil {
		t.Fatalf("signature entry rejected: %v", err)
	}
	if pPreimage.CheckCount != 2 {
		t.Errorf("preimage check count = %d, want 2", pPreimage.CheckCount)
	}
	if pSig.CheckCount != 1 {
		t.Errorf("signature check count = %d, want 1", pSig.CheckCount)
	}
	if !pSig.Less(pPreimage) {
		t.Errorf("signature %+v must outrank preimage %+v", pSig, pPreimage)
	}
}

func TestForkFirstEntry(t *testing.T) {
	// S6: a child log's first entry validated against the parent's
	// fork lock.
	parentID := newIdentity(t)
	child := newIdentity(t)

	childVlad := freshVlad(t)
	childVlad.Nonce[0] = 0x99
	forkLock := CodeScript(MustKey("/forks/"),
		`check_signature(branch("pubkey")) || (check_eq(branch("vlad")) && check_signature(branch("pubkey")))`)
	parentLocks := []Script{rootLock, forkLock}

	parent := NewLog(freshVlad(t), DefaultFirstLock())
	e0 := genesis(t, parent, parentID, parentLocks,
		Update(MustKey("/forks/child1/pubkey"), DataValue(EncodePublicKey(child.pub))),
		Update(MustKey("/forks/child1/vlad"), DataValue(childVlad.Encode())))
	if _, err := parent.TryAppend(e0, Config{}); err != nil {
		t.Fatalf("append parent genesis: %v", err)
	}

	parentCid, err := e0.CID()
	if err != nil {
		t.Fatal(err)
	}
	childEntry, err := NewEntryBuilder().
		WithVlad(childVlad).
		WithSeqno(0).
		WithPrev(parentCid).
		AddOp(Update(MustKey("/forks/child1/parent"), DataValue(parent.Vlad.Encode()))).
		WithLocks(rootLock).
		WithUnlock(CodeScript(RootKey(), `push("/entry/"); push("/entry/proof"); push("/entry/vlad")`)).
		Build(signer(child.priv))
	if err != nil {
		t.Fatal(err)
	}

	p, err := ValidateFork(parent, e0, childEntry, Config{})
	if err != nil {
		t.Fatalf("fork entry rejected: %v", err)
	}
	if p != (Precedence{1, 1, 2}) {
		t.Errorf("precedence = %+v, want (1,1,2)", p)
	}

	// The child log verifies once its parent is attached.
	childLog := NewLog(childVlad, DefaultFirstLock())
	childLog.SetParent(parent, e0)
	if _, err := childLog.TryAppend(childEntry, Config{}); err != nil {
		t.Fatalf("append fork entry: %v", err)
	}
	if err := childLog.Verify(Config{}); err != nil {
		t.Fatalf("verify child log: %v", err)
	}
}

func TestUnlockHermeticity(t *testing.T) {
	// An unlock script that calls a check fails the validation unless
	// the config allows it.
	id := newIdentity(t)
	l := NewLog(freshVlad(t), DefaultFirstLock())

	e0, err := NewEntryBuilder().
		WithVlad(l.Vlad).
		WithSeqno(0).
		AddOp(Update(MustKey("/ephemeral"), DataValue(EncodePublicKey(id.ephemPub)))).
		WithLocks(rootLock).
		WithUnlock(CodeScript(RootKey(), `check_eq("/entry/seqno") || push("/entry/")`)).
		Build(signer(id.ephemPriv))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.TryAppend(e0, Config{}); !errors.Is(err, ErrScript) {
		t.Errorf("error = %v, want ErrScript", err)
	}
}

func TestLockSetChangeGovernedByRoot(t *testing.T) {
	// Changing the lock list touches the root branch, so the root lock
	// joins the governing set even when every op stays in a delegated
	// branch. The delegated lock remains eligible too, so a delegate
	// key still gets the entry accepted, at delegated precedence.
	l, _, mike, locks := delegationLog(t)

	b, err := l.NextBuilder()
	if err != nil {
		t.Fatal(err)
	}
	rotated := CodeScript(MustKey("/delegated/"),
		`check_signature(branch("recovery")) || check_signature(branch("pubkey"))`)
	e, err := b.
		AddOp(Update(MustKey("/delegated/mike/endpoint"), StrValue("https://x"))).
		WithLocks(rotated).
		WithUnlock(unlockSig).
		Build(signer(mike.priv))
	if err != nil {
		t.Fatal(err)
	}

	governing := e.GoverningLocks(locks)
	if len(governing) != 2 || !governing[0].Key.Equal(RootKey()) {
		t.Errorf("governing set = %v, want root lock first", governing)
	}

	p, err := l.TryAppend(e, Config{})
	if err != nil {
		t.Fatalf("append rejected: %v", err)
	}
	if p.LockDepth != 1 {
		t.Errorf("lock depth = %d, want 1", p.LockDepth)
	}
}

func TestPrecedenceCompare(t *testing.T) {
	cases := []struct {
		a, b Precedence
		want int
	}{
		{Precedence{0, 0, 0}, Precedence{1, 0, 0}, -1},
		{Precedence{1, 0, 2}, Precedence{1, 1, 0}, -1},
		{Precedence{0, 2, 1}, Precedence{0, 2, 3}, -1},
		{Precedence{1, 1, 1}, Precedence{1, 1, 1}, 0},
		{Precedence{2, 0, 0}, Precedence{0, 9, 9}, 1},
	}
	for _, c := range cases {
		if got := c.a.Compare(c.b); got != c.want {
			t.Errorf("Compare(%+v, %+v) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestGoverningLockOrder(t *testing.T) {
	deep := CodeScript(MustKey("/a/b/"), `check_eq("/x")`)
	mid := CodeScript(MustKey("/a/"), `check_eq("/x")`)
	root := CodeScript(RootKey(), `check_eq("/x")`)

	e, err := NewEntryBuilder().
		WithVlad(testVlad(t)).
		WithSeqno(1).
		WithPrev(testVlad(t).Cid).
		AddOp(Update(MustKey("/a/b/c"), StrValue("v"))).
		WithLocks(deep, mid, root).
		WithUnlock(unlockSig).
		Build(nil)
	if err != nil {
		t.Fatal(err)
	}

	got := e.GoverningLocks([]Script{deep, mid, root})
	want := []string{"/", "/a/", "/a/b/"}
	if len(got) != len(want) {
		t.Fatalf("governing locks = %d, want %d", len(got), len(want))
	}
	for i, k := range want {
		if got[i].Key.String() != k {
			t.Errorf("lock %d at %q, want %q", i, got[i].Key.String(), k)
		}
	}
}

func TestEmptyOpsTouchesRoot(t *testing.T) {
	e, err := NewEntryBuilder().
		WithVlad(testVlad(t)).
		WithSeqno(1).
		WithPrev(testVlad(t).Cid).
		WithLocks(rootLock).
		WithUnlock(unlockSig).
		Build(nil)
	if err != nil {
		t.Fatal(err)
	}
	if e.Context().String() != "/" {
		t.Errorf("context = %q, want /", e.Context().String())
	}
	got := e.GoverningLocks([]Script{rootLock})
	if len(got) != 1 {
		t.Fatalf("governing locks = %d, want 1", len(got))
	}
}
