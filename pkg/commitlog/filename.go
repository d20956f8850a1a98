package commitlog

import "path/filepath"

func GetLockName(dir string) string {
	return filepath.Join(dir, "LOCK")
}

func GetSegmentDir(dir string) string {
	return filepath.Join(dir, "segments")
}

func GetCommitDir(dir string) string {
	return filepath.Join(dir, "commits")
}

func GetBoltName(dir string) string {
	return filepath.Join(dir, "commits.db")
}
