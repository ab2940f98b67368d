package session

import "fmt"

// Job id naming scheme used across single- and multi-worker dispatch:
//
//	<session_id>_c<chunk>     media chunk
//	<session_id>_cal<i>       calibration
//	<session_id>_pre<c>       prefetch
//	<session_id>_dup<c>       endgame duplicate
//	<session_id>_w<i>         big-split (Mode B)

func (s *Session) ChunkJobID(chunk int) string {
	return fmt.Sprintf("%s_c%d", s.ID, chunk)
}

func (s *Session) CalibrationJobID(workerIdx int) string {
	return fmt.Sprintf("%s_cal%d", s.ID, workerIdx)
}

func (s *Session) PrefetchJobID(chunk int) string {
	return fmt.Sprintf("%s_pre%d", s.ID, chunk)
}

func (s *Session) EndgameJobID(chunk int) string {
	return fmt.Sprintf("%s_dup%d", s.ID, chunk)
}

func (s *Session) BigSplitJobID(workerIdx int) string {
	return fmt.Sprintf("%s_w%d", s.ID, workerIdx)
}
