package mailbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/ignite/deliverability-guard/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeIMAPClient struct {
	uids         []imap.UID
	uidValidity  uint32
	bodies       map[imap.UID][]byte
	internalDate map[imap.UID]time.Time

	loginErr  error
	selectErr error
	searchErr error
	fetchErrs map[imap.UID]error
	storeErr  error

	storeUIDs   []imap.UID
	logoutCalls int
	closed      bool
}

func (c *fakeIMAPClient) Login(_, _ string) commandWaiter { return &fakeCommand{err: c.loginErr} }
func (c *fakeIMAPClient) Logout() commandWaiter {
	c.logoutCalls++
	return &fakeCommand{}
}
func (c *fakeIMAPClient) Close() error { c.closed = true; return nil }
func (c *fakeIMAPClient) Select(_ string, _ *imap.SelectOptions) selectWaiter {
	return &fakeSelect{err: c.selectErr, data: &imap.SelectData{UIDValidity: c.uidValidity}}
}
func (c *fakeIMAPClient) UIDSearch(_ *imap.SearchCriteria, _ *imap.SearchOptions) searchWaiter {
	data := &imap.SearchData{All: imap.UIDSetNum(c.uids...)}
	return &fakeSearch{err: c.searchErr, data: data}
}

func firstUID(numSet imap.NumSet) imap.UID {
	set, ok := numSet.(imap.UIDSet)
	if !ok || len(set) == 0 {
		return 0
	}
	return set[0].Start
}

func (c *fakeIMAPClient) Fetch(numSet imap.NumSet, _ *imap.FetchOptions) fetchWaiter {
	uid := firstUID(numSet)
	if err := c.fetchErrs[uid]; err != nil {
		return &fakeFetch{err: err}
	}
	bufs := []*imapclient.FetchMessageBuffer{{
		SeqNum:       uint32(uid),
		UID:          uid,
		InternalDate: c.internalDate[uid],
		BodySection: []imapclient.FetchBodySectionBuffer{{
			Section: &imap.FetchItemBodySection{},
			Bytes:   append([]byte(nil), c.bodies[uid]...),
		}},
	}}
	return &fakeFetch{bufs: bufs}
}

func (c *fakeIMAPClient) Store(numSet imap.NumSet, _ *imap.StoreFlags, _ *imap.StoreOptions) fetchWaiter {
	if c.storeErr == nil {
		c.storeUIDs = append(c.storeUIDs, firstUID(numSet))
	}
	return &fakeFetch{err: c.storeErr}
}

type fakeCommand struct{ err error }

func (c *fakeCommand) Wait() error { return c.err }

type fakeSelect struct {
	err  error
	data *imap.SelectData
}

func (s *fakeSelect) Wait() (*imap.SelectData, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

type fakeSearch struct {
	err  error
	data *imap.SearchData
}

func (s *fakeSearch) Wait() (*imap.SearchData, error) { return s.data, s.err }

type fakeFetch struct {
	err  error
	bufs []*imapclient.FetchMessageBuffer
}

func (f *fakeFetch) Collect() ([]*imapclient.FetchMessageBuffer, error) { return f.bufs, f.err }
func (f *fakeFetch) Close() error                                       { return f.err }

func imapCred() domain.MailboxCredential {
	return domain.MailboxCredential{
		ID:         "cred-1",
		Protocol:   domain.ProtocolIMAP,
		Host:       "mail.example",
		Username:   "bounces",
		Encryption: domain.EncryptionTLS,
	}
}

func TestIMAPFetch_StreamsAndMarksSeen(t *testing.T) {
	client := &fakeIMAPClient{
		uids:        []imap.UID{11, 12},
		uidValidity: 7,
		bodies:      map[imap.UID][]byte{11: []byte("first"), 12: []byte("second")},
		internalDate: map[imap.UID]time.Time{
			11: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
		},
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := &recordingHandler{}
	f := NewIMAPFetcher(
		WithIMAPClock(func() time.Time { return now }),
		withIMAPClientFactory(func(domain.MailboxCredential) (imapClient, error) { return client, nil }),
	)

	n, err := f.Fetch(context.Background(), imapCred(), []byte("secret"), h)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, h.messages, 2)
	require.Equal(t, "cred-1:7:11", h.messages[0].MessageID)
	require.Equal(t, time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC), h.messages[0].ReceivedAt)
	require.Equal(t, now, h.messages[1].ReceivedAt, "missing internal date falls back to the clock")
	require.Equal(t, []imap.UID{11, 12}, client.storeUIDs)
	require.Equal(t, 1, client.logoutCalls)
}

func TestIMAPFetch_AuthErrorYieldsNothing(t *testing.T) {
	client := &fakeIMAPClient{loginErr: errors.New("bad creds")}
	f := NewIMAPFetcher(withIMAPClientFactory(func(domain.MailboxCredential) (imapClient, error) { return client, nil }))

	n, err := f.Fetch(context.Background(), imapCred(), []byte("secret"), &recordingHandler{})
	require.ErrorContains(t, err, "imap auth")
	require.Zero(t, n)
	require.True(t, client.closed, "partial connection must be closed")
}

func TestIMAPFetch_SelectAndConnectErrors(t *testing.T) {
	f := NewIMAPFetcher(withIMAPClientFactory(func(domain.MailboxCredential) (imapClient, error) {
		return &fakeIMAPClient{selectErr: errors.New("no such mailbox")}, nil
	}))
	_, err := f.Fetch(context.Background(), imapCred(), []byte("secret"), &recordingHandler{})
	require.ErrorContains(t, err, "imap select")

	f = NewIMAPFetcher(withIMAPClientFactory(func(domain.MailboxCredential) (imapClient, error) {
		return nil, errors.New("dial failed")
	}))
	_, err = f.Fetch(context.Background(), imapCred(), []byte("secret"), &recordingHandler{})
	require.ErrorContains(t, err, "imap connect")
}

func TestIMAPFetch_PartialFetchFailurePreservesProgress(t *testing.T) {
	client := &fakeIMAPClient{
		uids:      []imap.UID{11, 12},
		bodies:    map[imap.UID][]byte{11: []byte("first")},
		fetchErrs: map[imap.UID]error{12: errors.New("connection reset")},
	}
	h := &recordingHandler{}
	f := NewIMAPFetcher(withIMAPClientFactory(func(domain.MailboxCredential) (imapClient, error) { return client, nil }))

	n, err := f.Fetch(context.Background(), imapCred(), []byte("secret"), h)
	require.Error(t, err)
	require.Equal(t, 1, n)
	require.Len(t, h.messages, 1)
}

func TestIMAPFetch_StoreFailureIsBestEffort(t *testing.T) {
	client := &fakeIMAPClient{
		uids:     []imap.UID{11},
		bodies:   map[imap.UID][]byte{11: []byte("first")},
		storeErr: errors.New("flag store rejected"),
	}
	h := &recordingHandler{}
	f := NewIMAPFetcher(withIMAPClientFactory(func(domain.MailboxCredential) (imapClient, error) { return client, nil }))

	n, err := f.Fetch(context.Background(), imapCred(), []byte("secret"), h)
	require.NoError(t, err, "a failed flag store must not fail the cycle")
	require.Equal(t, 1, n)
}

func TestIMAPFetch_MessageIDScopedToUIDValidity(t *testing.T) {
	fetch := func(validity uint32) string {
		client := &fakeIMAPClient{
			uids:        []imap.UID{11},
			uidValidity: validity,
			bodies:      map[imap.UID][]byte{11: []byte("first")},
		}
		h := &recordingHandler{}
		f := NewIMAPFetcher(withIMAPClientFactory(func(domain.MailboxCredential) (imapClient, error) { return client, nil }))
		_, err := f.Fetch(context.Background(), imapCred(), []byte("secret"), h)
		require.NoError(t, err)
		require.Len(t, h.messages, 1)
		return h.messages[0].MessageID
	}

	// A rebuilt mailbox reuses UID 11 under a new UIDVALIDITY; the message
	// must not de-dup against the old one.
	require.NotEqual(t, fetch(7), fetch(8))
}

func TestIMAPFetch_EmptyMailbox(t *testing.T) {
	client := &fakeIMAPClient{}
	f := NewIMAPFetcher(withIMAPClientFactory(func(domain.MailboxCredential) (imapClient, error) { return client, nil }))
	n, err := f.Fetch(context.Background(), imapCred(), []byte("secret"), &recordingHandler{})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestFactory_ProtocolRouting(t *testing.T) {
	factory := NewFactory(NewIMAPFetcher(), NewPOP3Fetcher())

	f, err := factory.FetcherFor(domain.MailboxCredential{Protocol: domain.ProtocolIMAP})
	require.NoError(t, err)
	require.Equal(t, "imap", f.Name())

	f, err = factory.FetcherFor(domain.MailboxCredential{Protocol: domain.ProtocolPOP3})
	require.NoError(t, err)
	require.Equal(t, "pop3", f.Name())

	_, err = factory.FetcherFor(domain.MailboxCredential{Protocol: "smtp"})
	require.Error(t, err)
}
