// Package routing decides where each media key goes. The Controller owns one
// automation session per installed player, picks a target for every key-down, and
// either dispatches a command, launches the player or lets the key through
// according to the persisted policy.
package routing
