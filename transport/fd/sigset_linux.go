package fd

import "golang.org/x/sys/unix"

// fullSigset returns a signal set with every signal blocked, used to mask
// signals for the duration of a Poll wait (restored bitwise on return via
// unix.PthreadSigmask).
func fullSigset() unix.Sigset_t {
	var set unix.Sigset_t
	for i := range set.Val {
		set.Val[i] = ^uint64(0)
	}
	return set
}
