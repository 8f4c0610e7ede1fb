package cbmerr

// FatResult is a FatFs FRESULT value as reported by firmware that serves
// an SD card directly.
type FatResult byte

const (
	FatOK FatResult = iota
	FatDiskErr
	FatIntErr
	FatNotReady
	FatNoFile
	FatNoPath
	FatInvalidName
	FatDenied
	FatExist
	FatInvalidObject
	FatWriteProtected
	FatInvalidDrive
	FatNotEnabled
	FatNoFilesystem
	FatMkfsAborted
	FatTimeout
	FatLocked
	FatNotEnoughCore
	FatTooManyOpenFiles
	FatInvalidParameter
)

var fatTable = map[FatResult]Code{
	FatOK:               OK,
	FatDiskErr:          WriteError,
	FatIntErr:           Fault,
	FatNotReady:         DriveNotReady,
	FatNoFile:           FileNotFound,
	FatNoPath:           FileNotFound,
	FatInvalidName:      SyntaxInval,
	FatDenied:           NoPermission,
	FatExist:            FileExists,
	FatInvalidObject:    Fault,
	FatWriteProtected:   WriteProtect,
	FatInvalidDrive:     DriveNotReady,
	FatNotEnabled:       DriveNotReady,
	FatNoFilesystem:     DriveNotReady,
	FatTimeout:          DriveNotReady,
	FatLocked:           NoPermission,
	FatNotEnoughCore:    NoChannel,
	FatTooManyOpenFiles: NoChannel,
	FatInvalidParameter: SyntaxInval,
}

// FromFAT maps a FatFs result to a CBM code; unknown results are FAULT.
func FromFAT(r FatResult) Code {
	if c, ok := fatTable[r]; ok {
		return c
	}
	return Fault
}
