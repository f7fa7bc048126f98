package server

import (
	"fmt"
	"os"
	"os/user"
	"sort"
	"strconv"
	"strings"
	"syscall"
)

func (s *session) handleCWD(arg string) {
	ftpAbs, fsPath, err := s.resolvePath(arg)
	if err != nil {
		s.reply(codeActionNotTaken, "%v", err)
		return
	}
	info, err := os.Stat(fsPath)
	if err != nil || !info.IsDir() {
		s.reply(codeActionNotTaken, "Failed to change directory.")
		return
	}
	s.cwd = ftpAbs
	s.reply(codeFileActionOK, "Directory successfully changed.")
}

func (s *session) handlePWD() {
	s.reply(codePathCreated, "%q is the current directory.", s.cwd)
}

func (s *session) handleMKD(arg string) {
	if !s.isAdmin {
		s.reply(codeActionNotTaken, "Permission denied.")
		return
	}
	ftpAbs, fsPath, err := s.resolvePath(arg)
	if err != nil {
		s.reply(codeNameNotAllowed, "%v", err)
		return
	}
	if err := os.Mkdir(fsPath, 0o777&^s.umask); err != nil {
		s.reply(codeNameNotAllowed, "Create directory operation failed.")
		return
	}
	s.reply(codePathCreated, "%q created.", ftpAbs)
}

func (s *session) handleRMD(arg string) {
	if !s.isAdmin {
		s.reply(codeActionNotTaken, "Permission denied.")
		return
	}
	_, fsPath, err := s.resolvePath(arg)
	if err != nil {
		s.reply(codeActionNotTaken, "%v", err)
		return
	}
	if err := os.RemoveAll(fsPath); err != nil {
		s.reply(codeActionNotTaken, "Remove directory operation failed.")
		return
	}
	s.reply(codeFileActionOK, "Remove directory operation successful.")
}

func (s *session) handleDELE(arg string) {
	if !s.isAdmin {
		s.reply(codeActionNotTaken, "Permission denied.")
		return
	}
	_, fsPath, err := s.resolvePath(arg)
	if err != nil {
		s.reply(codeActionNotTaken, "%v", err)
		return
	}
	info, err := os.Lstat(fsPath)
	if err != nil || info.IsDir() {
		s.reply(codeActionNotTaken, "Delete operation failed.")
		return
	}
	if err := os.Remove(fsPath); err != nil {
		s.reply(codeActionNotTaken, "Delete operation failed.")
		return
	}
	s.reply(codeFileActionOK, "Delete operation successful.")
}

func (s *session) handleRNFR(arg string) {
	if !s.isAdmin {
		s.reply(codeActionNotTaken, "Permission denied.")
		return
	}
	_, fsPath, err := s.resolvePath(arg)
	if err != nil {
		s.reply(codeActionNotTaken, "%v", err)
		return
	}
	if _, err := os.Lstat(fsPath); err != nil {
		s.reply(codeActionNotTaken, "RNFR command failed.")
		return
	}
	s.renameFrom = arg
	s.reply(codePendingFurther, "Ready for RNTO.")
}

func (s *session) handleRNTO(arg string) {
	if s.renameFrom == "" {
		s.reply(codeBadSequence, "RNFR required first.")
		return
	}
	_, fromFS, err := s.resolvePath(s.renameFrom)
	if err != nil {
		s.renameFrom = ""
		s.reply(codeNameNotAllowed, "%v", err)
		return
	}
	_, toFS, err := s.resolvePath(arg)
	if err != nil {
		s.renameFrom = ""
		s.reply(codeNameNotAllowed, "%v", err)
		return
	}
	err = os.Rename(fromFS, toFS)
	s.renameFrom = ""
	if err != nil {
		s.reply(codeNameNotAllowed, "Rename failed.")
		return
	}
	s.reply(codeFileActionOK, "Rename successful.")
}

func (s *session) handleSIZE(arg string) {
	_, fsPath, err := s.resolvePath(arg)
	if err != nil {
		s.reply(codeActionNotTaken, "%v", err)
		return
	}
	info, err := os.Stat(fsPath)
	if err != nil || info.IsDir() {
		s.reply(codeActionNotTaken, "Could not get file size.")
		return
	}
	s.reply(codeFileStatus, "%d", info.Size())
}

var helpTopics = map[string]string{
	"":     "Recognized commands: USER PASS QUIT NOOP CWD CDUP PWD TYPE PORT PASV LIST NLST SIZE STOR RETR APPE STOU MKD RMD DELE RNFR RNTO SITE REST ABOR SYST HELP",
	"SITE": "SITE UMASK <mask>, SITE CHMOD <mode> <path>",
}

func (s *session) handleHELP(arg string) {
	topic := strings.ToUpper(strings.TrimSpace(arg))
	msg, ok := helpTopics[topic]
	if !ok {
		s.reply(codeSyntaxError, "Unknown HELP topic.")
		return
	}
	s.reply(codeHelpMessage, "%s", msg)
}

func (s *session) handleLIST(arg string) {
	s.listCommon(arg, true)
}

func (s *session) handleNLST(arg string) {
	s.listCommon(arg, false)
}

func (s *session) listCommon(arg string, long bool) {
	_, fsPath, err := s.resolvePath(arg)
	if err != nil {
		s.reply(codeActionNotTaken, "%v", err)
		return
	}
	entries, err := os.ReadDir(fsPath)
	if err != nil {
		s.reply(codeActionNotTaken, "Failed to list directory.")
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	dc, err := s.getDataConn()
	if err != nil {
		s.reply(codeCantOpenData, "%v", err)
		return
	}
	defer s.closeData()

	s.reply(codeFileStatusOK, "Here comes the directory listing.")

	var sb strings.Builder
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if long {
			sb.WriteString(formatLongEntry(info))
		} else {
			sb.WriteString(e.Name())
			sb.WriteString("\r\n")
		}
	}
	if err := dc.send([]byte(sb.String())); err != nil {
		s.reply(codeConnClosedAbort, "Connection closed; transfer aborted.")
		return
	}
	s.reply(codeClosingData, "Directory send OK.")
}

// formatLongEntry renders one RFC-1123-ish long-form listing line:
// TRRRRRRRRR L owner group size  Mon DD HH:MM:SS name[/]
func formatLongEntry(info os.FileInfo) string {
	mode := info.Mode()
	typ := '-'
	if mode.IsDir() {
		typ = 'd'
	} else if mode&os.ModeSymlink != 0 {
		typ = 'l'
	}
	perms := permString(mode)

	nlink := uint64(1)
	owner, group := "owner", "group"
	if sys, ok := info.Sys().(*syscall.Stat_t); ok {
		nlink = uint64(sys.Nlink)
		if u, err := user.LookupId(strconv.FormatUint(uint64(sys.Uid), 10)); err == nil {
			owner = u.Username
		}
		if g, err := user.LookupGroupId(strconv.FormatUint(uint64(sys.Gid), 10)); err == nil {
			group = g.Name
		}
	}

	size := humanSize(info.Size())
	date := info.ModTime().UTC().Format("Jan 02 15:04:05")
	name := info.Name()
	if mode.IsDir() {
		name += "/"
	}

	return fmt.Sprintf("%c%s %d %s %s %s  %s %s\r\n", typ, perms, nlink, owner, group, size, date, name)
}

func permString(mode os.FileMode) string {
	const rwx = "rwxrwxrwx"
	var b strings.Builder
	perm := mode.Perm()
	for i := 0; i < 9; i++ {
		if perm&(1<<(8-i)) != 0 {
			b.WriteByte(rwx[i])
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1fG", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1fM", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fK", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d", n)
	}
}
