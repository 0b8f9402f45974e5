// Package mqtt is the Home Assistant accessory registry. Cameras and
// motion sensors are announced with MQTT discovery and motion state is
// published to retained state topics.
//
// Each camera becomes an HA device carrying a sensor entity whose JSON
// attributes hold the stream and still image sources. A motion sensor
// adds a binary_sensor (device class motion) and an identify button
// to the same device.
//
// Connection management uses Eclipse Paho v2's [autopaho] package with
// automatic reconnection. On every (re-)connect the registry publishes
// retained discovery payloads for everything registered so far, a
// birth message ("online") on the availability topic, and subscribes
// to the identify command topics. A will message flips availability
// to "offline" on unexpected disconnects.
package mqtt
