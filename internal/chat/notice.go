package chat

import (
	"sync"
	"time"
)

// NoticeTTL is how long an error notice stays up unless dismissed.
const NoticeTTL = 5 * time.Second

type Notice struct {
	Text   string
	Seq    uint64
	Posted time.Time
}

// Notices holds at most one transient error notice. Posting replaces the
// current one.
type Notices struct {
	mu  sync.Mutex
	cur Notice
	seq uint64
	now func() time.Time
}

func NewNotices() *Notices {
	return &Notices{now: time.Now}
}

func (n *Notices) Post(text string) Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	n.cur = Notice{Text: text, Seq: n.seq, Posted: n.now()}
	return n.cur
}

// Current returns the live notice, if any.
func (n *Notices) Current() (Notice, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cur.Text == "" || n.now().Sub(n.cur.Posted) >= NoticeTTL {
		return Notice{}, false
	}
	return n.cur, true
}

func (n *Notices) Dismiss() {
	n.mu.Lock()
	n.cur = Notice{}
	n.mu.Unlock()
}

// Expire clears the notice only if it is still the one numbered seq, so a
// timer started for an older notice cannot hide a newer one.
func (n *Notices) Expire(seq uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cur.Seq == seq {
		n.cur = Notice{}
	}
}
