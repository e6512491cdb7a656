package compaction

import "github.com/tskvio/tskv/pkg/version"

// Request describes one candidate set of files to merge into the next
// level (§4.8's CompactReq).
type Request struct {
	Files    []version.FileMeta
	OutLevel int
}

// Pick scans every level of v and produces a Request for each level
// whose file count reaches compactTrigger and whose combined size stays
// within maxCompactSize. fileSize looks up a file's size on disk since
// Version doesn't track it itself.
func Pick(v *version.Version, compactTrigger int, maxCompactSize int64, fileSize func(version.FileMeta) int64) []Request {
	var reqs []Request
	for level, files := range v.Levels {
		if len(files) < compactTrigger {
			continue
		}
		var total int64
		var candidates []version.FileMeta
		for _, f := range files {
			sz := fileSize(f)
			if total+sz > maxCompactSize && len(candidates) > 0 {
				break
			}
			candidates = append(candidates, f)
			total += sz
		}
		if len(candidates) >= compactTrigger {
			reqs = append(reqs, Request{Files: candidates, OutLevel: level + 1})
		}
	}
	return reqs
}
