// Package mmap maps datafiles read-only for zero-copy page reads.
//
//	m, err := mmap.Open("orders_pk.obt")
//	if err != nil { ... }
//	defer m.Close()
//	_ = m.Advise(mmap.AccessRandom)
//	img, err := m.Slice(off, n)
//
// Unix uses mmap(2) and madvise(2); Windows uses MapViewOfFile and ignores
// access hints. Slices returned by Bytes and Slice are valid until Close.
package mmap
