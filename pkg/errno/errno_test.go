package errno

import "testing"

func TestSetLast(t *testing.T) {
	Set(ENoErr)
	if got := Last(); got != ENoErr {
		t.Fatalf("Last() = %v, want ENoErr", got)
	}

	Set(ENoEnt)
	if got := Last(); got != ENoEnt {
		t.Fatalf("Last() = %v, want ENoEnt", got)
	}
}

func TestPerror(t *testing.T) {
	Set(EBusy)
	if got, want := Perror("open"), "open: resource busy"; got != want {
		t.Errorf("Perror(%q) = %q, want %q", "open", got, want)
	}
	if got, want := Perror(""), "resource busy"; got != want {
		t.Errorf("Perror(\"\") = %q, want %q", got, want)
	}
}

func TestErrorUnknown(t *testing.T) {
	e := Errno(9999)
	if got, want := e.Error(), "errno 9999"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestAllCodesHaveMessages(t *testing.T) {
	for e := ENoErr; e < errMax; e++ {
		if e.Error() == "" {
			t.Errorf("Errno(%d).Error() is empty", e)
		}
	}
}
