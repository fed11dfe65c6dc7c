package door

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Format identifies one of the supported drop file layouts.
type Format int

const (
	FormatDoorSys    Format = iota + 1 // DOOR.SYS, 52 lines, CR terminated
	FormatDorInfo                      // DORINFO1.DEF, CRLF terminated
	FormatDoorFileSR                   // DOORFILE.SR, CRLF terminated
)

// DropInfo is the session state written into a drop file.
type DropInfo struct {
	Node     int
	UserName string
}

// DropFile knows how to produce and remove one drop file format.
type DropFile struct {
	Format   Format
	Tag      string
	FileName string
	generate func(info DropInfo) []byte
}

var dropFiles = map[Format]DropFile{
	FormatDoorSys:    {Format: FormatDoorSys, Tag: "DoorSys", FileName: "DOOR.SYS", generate: generateDoorSys},
	FormatDorInfo:    {Format: FormatDorInfo, Tag: "DorInfo", FileName: "DORINFO1.DEF", generate: generateDorInfo},
	FormatDoorFileSR: {Format: FormatDoorFileSR, Tag: "DoorFileSR", FileName: "DOORFILE.SR", generate: generateDoorFileSR},
}

// LookupDropFile resolves a catalog format tag such as "DoorSys".
func LookupDropFile(tag string) (DropFile, bool) {
	for _, df := range dropFiles {
		if df.Tag == tag {
			return df, true
		}
	}
	return DropFile{}, false
}

// FormatTags lists the recognized catalog format tags.
func FormatTags() []string {
	return []string{"DoorSys", "DorInfo", "DoorFileSR"}
}

// DropFiles returns every supported drop file in format order.
func DropFiles() []DropFile {
	return []DropFile{dropFiles[FormatDoorSys], dropFiles[FormatDorInfo], dropFiles[FormatDoorFileSR]}
}

// Generate returns the exact file contents for info.
func (d DropFile) Generate(info DropInfo) []byte {
	return d.generate(info)
}

// Path returns the drop file location inside dir.
func (d DropFile) Path(dir string) string {
	return filepath.Join(dir, d.FileName)
}

// Write creates the drop file in dir and returns its path.
func (d DropFile) Write(dir string, info DropInfo) (string, error) {
	path := d.Path(dir)
	log.Printf("INFO: Node %d: Generating %s at: %s", info.Node, d.FileName, path)
	if err := os.WriteFile(path, d.Generate(info), 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", d.FileName, err)
	}
	return path, nil
}

// Remove deletes the drop file from dir. A missing file is not an error.
func (d DropFile) Remove(dir string) error {
	if err := os.Remove(d.Path(dir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", d.FileName, err)
	}
	return nil
}

// generateDoorSys builds the 52-line DOOR.SYS. Lines end in a bare CR.
func generateDoorSys(info DropInfo) []byte {
	var b strings.Builder
	cr := "\r"
	node := strconv.Itoa(info.Node)

	b.WriteString("COM1:" + cr)         // 1: COM port
	b.WriteString("38400" + cr)         // 2: Baud rate
	b.WriteString("8" + cr)             // 3: Data bits
	b.WriteString(node + cr)            // 4: Node number
	b.WriteString("38400" + cr)         // 5: Locked baud rate
	b.WriteString("Y" + cr)             // 6: Screen display
	b.WriteString("Y" + cr)             // 7: Printer toggle
	b.WriteString("Y" + cr)             // 8: Page bell
	b.WriteString("Y" + cr)             // 9: Caller alarm
	b.WriteString(info.UserName + cr)   // 10: User full name
	b.WriteString("DoorNode" + cr)      // 11: Calling from
	b.WriteString("123 123-1234" + cr)  // 12: Home phone
	b.WriteString("123 123-1234" + cr)  // 13: Work phone
	b.WriteString("PASSWORD" + cr)      // 14: Password
	b.WriteString("30" + cr)            // 15: Security level
	b.WriteString("1" + cr)             // 16: Total times on
	b.WriteString("01/01/99" + cr)      // 17: Last call date
	b.WriteString("86400" + cr)         // 18: Seconds remaining
	b.WriteString("1440" + cr)          // 19: Minutes remaining
	b.WriteString("GR" + cr)            // 20: Graphics mode
	b.WriteString("23" + cr)            // 21: Screen length
	b.WriteString("Y" + cr)             // 22: Expert mode
	b.WriteString("1,2,3,4,5,6,7" + cr) // 23: Conferences registered
	b.WriteString("7" + cr)             // 24: Conference exited to
	b.WriteString("12/31/99" + cr)      // 25: Expiration date
	b.WriteString(node + cr)            // 26: User record number
	b.WriteString("Y" + cr)             // 27: Default protocol
	b.WriteString("0" + cr)             // 28: Total uploads
	b.WriteString("0" + cr)             // 29: Total downloads
	b.WriteString("0" + cr)             // 30: Daily download K
	b.WriteString("999999" + cr)        // 31: Max daily download K
	b.WriteString("01/01/81" + cr)      // 32: Birthdate
	b.WriteString("C:\\" + cr)          // 33: Main directory
	b.WriteString("C:\\" + cr)          // 34: GEN directory
	b.WriteString("Sysop" + cr)         // 35: Sysop name
	b.WriteString("Sysop" + cr)         // 36: Sysop alias
	b.WriteString("00:05" + cr)         // 37: Event time
	b.WriteString("Y" + cr)             // 38: Error correcting connection
	b.WriteString("Y" + cr)             // 39: ANSI supported
	b.WriteString("Y" + cr)             // 40: Record locking
	b.WriteString("14" + cr)            // 41: Default color
	b.WriteString("999999" + cr)        // 42: Time credits
	b.WriteString("01/01/99" + cr)      // 43: Last new files scan
	b.WriteString("00:05" + cr)         // 44: Time of this call
	b.WriteString("00:05" + cr)         // 45: Time of last call
	b.WriteString("999" + cr)           // 46: Max daily files
	b.WriteString("0" + cr)             // 47: Files downloaded today
	b.WriteString("0" + cr)             // 48: Total K uploaded
	b.WriteString("0" + cr)             // 49: Total K downloaded
	b.WriteString("DoorNode user" + cr) // 50: User comment
	b.WriteString("0" + cr)             // 51: Doors opened
	b.WriteString("0" + cr)             // 52: Messages left

	return []byte(b.String())
}

// generateDorInfo builds DORINFO1.DEF. The user name doubles as the sysop
// first name since the server has no sysop record.
func generateDorInfo(info DropInfo) []byte {
	var b strings.Builder
	crlf := "\r\n"

	b.WriteString("DoorNode" + crlf)         // 1: BBS name
	b.WriteString(info.UserName + crlf)      // 2: Sysop first name
	b.WriteString("Lastname" + crlf)         // 3: Sysop last name
	b.WriteString("COM1" + crlf)             // 4: COM port
	b.WriteString("38400 BAUD,N,8,1" + crlf) // 5: Baud/parity
	b.WriteString("0" + crlf)                // 6: Network type
	b.WriteString(info.UserName + crlf)      // 7: User first name
	b.WriteString(crlf)                      // 8: User last name
	b.WriteString("123 Test Lane" + crlf)    // 9: Location
	b.WriteString("1" + crlf)                // 10: Graphics (1 = ANSI)
	b.WriteString("30" + crlf)               // 11: Security level
	b.WriteString("32766" + crlf)            // 12: Minutes remaining
	b.WriteString("0" + crlf)                // 13: FOSSIL flag

	return []byte(b.String())
}

func generateDoorFileSR(info DropInfo) []byte {
	var b strings.Builder
	crlf := "\r\n"

	b.WriteString(info.UserName + crlf) // 1: User name
	b.WriteString("1" + crlf)           // 2: ANSI
	b.WriteString("0" + crlf)           // 3: IBM graphics
	b.WriteString("23" + crlf)          // 4: Page length
	b.WriteString("38400" + crlf)       // 5: Baud rate
	b.WriteString("1" + crlf)           // 6: COM port
	b.WriteString("86400" + crlf)       // 7: Seconds remaining
	b.WriteString(info.UserName + crlf) // 8: Real name

	return []byte(b.String())
}
