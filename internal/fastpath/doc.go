// Package fastpath finds downlinks inside non-leaf pages without locks,
// page copies or tuple decoding.
//
// A descent builds one Meta with CanFindDownlink and passes it to
// FindDownlink at every non-leaf page. FindDownlink binary searches the fixed
// high-key array for the chunk, then the chunk's fixed key array for the
// item, one key field at a time. Reads are optimistic: the page state word
// is loaded before and after, and any concurrent write turns the result into
// ResultRetry. Pages or keys that are not fixed-format yield ResultSlowpath
// and the caller uses the generic search.
package fastpath
