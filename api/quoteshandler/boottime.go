package quoteshandler

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// readBootTime returns the UNIX timestamp of the last platform boot from
// /proc/stat, or zero when it cannot be determined.
func readBootTime() int64 {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && fields[0] == "btime" {
			btime, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return 0
			}
			return btime
		}
	}
	return 0
}
