package pipeline

import (
	"path/filepath"
	"strings"
	"time"
)

// TimestampLayout is the time part of artifact names.
const TimestampLayout = "2006-01-02_15-04-05"

// OutputPath names the artifact for source: {stem}_{voice}_{timestamp}.{ext}
// in the source's directory.
func OutputPath(source, voiceID string, t time.Time, ext string) string {
	dir := filepath.Dir(source)
	base := filepath.Base(source)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	ext = strings.TrimPrefix(ext, ".")
	return filepath.Join(dir, stem+"_"+voiceID+"_"+t.Format(TimestampLayout)+"."+ext)
}
