package notifications

import "errors"

// errAttemptAborted 出站尝试在流打开前被放弃
var errAttemptAborted = errors.New("outbound attempt aborted")
