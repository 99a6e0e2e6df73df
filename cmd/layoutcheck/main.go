// Command layoutcheck prints the alignment and size of the trailer's
// wire-format structs, the way the teacher's cli/main.go printed
// sidb's HeadPage/Page/Index alignment to reason about packing before
// trusting an unsafe-pointer cast. This core doesn't cast pointers
// onto the wire bytes (see DESIGN.md), but the same "measure it"
// habit is worth keeping as a standalone sanity check that the
// hand-written Marshal/Unmarshal pair and the struct definitions
// agree on PageSize.
package main

import (
	"fmt"
	"unsafe"

	"swapcore/internal/trailer"
)

func main() {
	fmt.Println("trailer.LastPage", "align", unsafe.Alignof(trailer.LastPage{}), "size", unsafe.Sizeof(trailer.LastPage{}))
	fmt.Println("trailer.HashPage", "align", unsafe.Alignof(trailer.HashPage{}), "size", unsafe.Sizeof(trailer.HashPage{}))
	fmt.Println("wire PageSize", trailer.PageSize)
}
