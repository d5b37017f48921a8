package fastexport

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// lastValidMark scans the marks file the importer maintains for the
// named repository and returns the highest mark of the contiguous
// prefix :1..:n. Marks the importer wrote are only trustworthy up to
// the first gap; everything beyond it belongs to a run that was cut
// short before the file was flushed in order.
//
// A missing file is a fresh repository and yields 0 silently. A
// malformed, duplicated or descending mark means the file cannot be
// trusted at all: the corruption is logged and 0 is returned, forcing
// the resume logic to rewind to the beginning.
func lastValidMark(name string, log *logrus.Logger) int {
	f, err := os.Open(marksFilePath(name))
	if err != nil {
		return 0
	}
	defer f.Close()

	prevMark := 0
	lineno := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		lineno++
		if strings.TrimSpace(line) == "" {
			continue
		}

		mark := 0
		if line[0] == ':' {
			if sp := strings.IndexByte(line, ' '); sp != -1 {
				mark, _ = strconv.Atoi(line[1:sp])
			}
		}

		switch {
		case mark == 0:
			log.Errorf("%s line %d: marks file corrupt?", marksFilePath(name), lineno)
			return 0
		case mark == prevMark:
			log.Errorf("%s line %d: marks file has duplicates", marksFilePath(name), lineno)
			return 0
		case mark < prevMark:
			log.Errorf("%s line %d: marks file not sorted", marksFilePath(name), lineno)
			return 0
		case mark > prevMark+1:
			return prevMark
		}
		prevMark = mark
	}
	return prevMark
}
