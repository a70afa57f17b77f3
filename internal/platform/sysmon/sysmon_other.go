//go:build !windows

package sysmon

func capturePlatform(*Snapshot) {}
