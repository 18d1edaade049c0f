// Package supervisor runs one agent per channel.
//
// Agents are created through a Factory so the supervisor does not care which
// transport or model provider backs a channel. A cron-scheduled reaper disposes
// agents whose session has not accepted a message within the idle timeout.
package supervisor
